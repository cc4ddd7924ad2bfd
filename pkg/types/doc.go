/*
Package types defines the shared data model of the Forager acquisition
engine: requests, bundles, resources, run plans and results, persisted
locator records, and the sentinel errors used across components.

A RequestMeta is one unit of work produced by a locator. The loader turns
it into zero or more BundleRefs, each of which names a bundle: the atomic
persistence unit written through a storage sink. BIDs are ULIDs, so they
are unique within the process and sort lexicographically by creation
time, which lets storage keys derived from them bucket naturally by time.

ErrorRecord and BundleResult are the per-URL records locators persist to
the KV store (24h and 30d TTLs respectively). LocatorState carries the
resumable cursor state for paginated locators.
*/
package types
