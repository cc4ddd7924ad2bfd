/*
Package kv provides typed get/put/delete/range access over a namespaced
key space with optional TTLs. It is the persistence layer for locator
state: processed-URL sets, file queues, cursor state, and per-URL
result/error records.

Three backends implement the Store interface:

  - MemoryStore: process-local map with a background expiry sweep.
    Suitable for one-shot runs and tests.
  - BoltStore: durable single-file store backed by BoltDB, for resumable
    runs on a single host.
  - RedisStore: networked, connection-pooled backend, health-checked on
    first use. RangeGet is implemented with SCAN plus a client-side
    sort, so ascending-key ordering holds regardless of backend scan
    semantics.

Values pass through a Serializer (JSON by default, gob for binary).
Keys are UTF-8 strings joined with ":" separators; an optional prefix
bound at construction namespaces every key. TTL of zero falls back to
the store default; negative disables expiry.

Backend failures surface as types.ErrBackendUnavailable (transient,
caller may retry); encode/decode failures as types.ErrSerializer.
*/
package kv
