package types

import "errors"

// Sentinel errors shared across components. Callers match with errors.Is.
var (
	// ErrCredentialMissing indicates a credential provider could not
	// resolve a (config, field) pair.
	ErrCredentialMissing = errors.New("credential missing")

	// ErrAuthFailed indicates an authentication mechanism could not
	// produce valid credentials for a request.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrBackendUnavailable indicates the KV backend could not be
	// reached after bounded retries. Treated as transient.
	ErrBackendUnavailable = errors.New("kv backend unavailable")

	// ErrSerializer indicates a KV value failed to encode or decode.
	ErrSerializer = errors.New("serializer error")

	// ErrNotFound indicates a requested key or path does not exist.
	ErrNotFound = errors.New("not found")
)
