package credentials

import (
	"context"
	"fmt"

	"github.com/cuemby/forager/pkg/types"
)

// StaticProvider serves credentials from an in-memory map, keyed by
// config name then field. Intended for tests and local development.
type StaticProvider struct {
	Configs map[string]map[string]string
}

func NewStaticProvider(configs map[string]map[string]string) *StaticProvider {
	return &StaticProvider{Configs: configs}
}

func (p *StaticProvider) GetCredential(ctx context.Context, configName, field string) (string, error) {
	fields, ok := p.Configs[configName]
	if ok {
		if value, ok := fields[field]; ok && value != "" {
			return value, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", types.ErrCredentialMissing, configName, field)
}
