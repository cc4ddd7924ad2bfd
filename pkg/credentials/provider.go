package credentials

import "context"

// Provider resolves named secrets by (configName, field). Implementations
// must be safe for concurrent use and must not cache secrets across
// processes; in-process caches are permitted.
type Provider interface {
	// GetCredential returns the secret value for a config and field,
	// or an error wrapping types.ErrCredentialMissing.
	GetCredential(ctx context.Context, configName, field string) (string, error)
}
