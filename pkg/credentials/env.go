package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/forager/pkg/types"
)

// EnvProvider resolves credentials from environment variables named
// <PREFIX>_<CONFIG>_<FIELD>, upper-cased with non-alphanumerics mapped
// to underscores.
type EnvProvider struct {
	Prefix string
}

// NewEnvProvider creates an environment-backed provider. An empty
// prefix defaults to "FORAGER".
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "FORAGER"
	}
	return &EnvProvider{Prefix: prefix}
}

func envSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (p *EnvProvider) GetCredential(ctx context.Context, configName, field string) (string, error) {
	name := fmt.Sprintf("%s_%s_%s", p.Prefix, envSegment(configName), envSegment(field))
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s (env %s)", types.ErrCredentialMissing, field, name)
	}
	return value, nil
}
