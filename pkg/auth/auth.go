package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/cuemby/forager/pkg/credentials"
	"github.com/cuemby/forager/pkg/types"
)

// Mechanism mutates outgoing request headers to carry credentials.
// Mutations are additive: a mechanism never removes caller-supplied
// headers, though it may overwrite Authorization.
type Mechanism interface {
	Apply(ctx context.Context, header http.Header) error
}

// None is the identity mechanism.
type None struct{}

func (None) Apply(ctx context.Context, header http.Header) error { return nil }

// Basic sets "Authorization: Basic base64(user:pass)" with credentials
// from the provider. Field names default to "username" and "password".
type Basic struct {
	Provider   credentials.Provider
	ConfigName string
	UserField  string
	PassField  string
}

func (b *Basic) Apply(ctx context.Context, header http.Header) error {
	userField := b.UserField
	if userField == "" {
		userField = "username"
	}
	passField := b.PassField
	if passField == "" {
		passField = "password"
	}

	user, err := b.Provider.GetCredential(ctx, b.ConfigName, userField)
	if err != nil {
		return err
	}
	pass, err := b.Provider.GetCredential(ctx, b.ConfigName, passField)
	if err != nil {
		return err
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
	header.Set("Authorization", "Basic "+encoded)
	return nil
}

// Bearer sets "Authorization: Bearer <token>" with the token credential
// from the provider. The field name defaults to "token".
type Bearer struct {
	Provider   credentials.Provider
	ConfigName string
	TokenField string
}

func (b *Bearer) Apply(ctx context.Context, header http.Header) error {
	field := b.TokenField
	if field == "" {
		field = "token"
	}
	token, err := b.Provider.GetCredential(ctx, b.ConfigName, field)
	if err != nil {
		return err
	}
	header.Set("Authorization", "Bearer "+token)
	return nil
}

// ByName constructs a mechanism from a config name. Used by the CLI when
// building recipes from YAML.
func ByName(name string, provider credentials.Provider, configName, tokenURL string) (Mechanism, error) {
	switch name {
	case "", "none":
		return None{}, nil
	case "basic":
		return &Basic{Provider: provider, ConfigName: configName}, nil
	case "bearer":
		return &Bearer{Provider: provider, ConfigName: configName}, nil
	case "oauth2":
		if tokenURL == "" {
			return nil, fmt.Errorf("%w: oauth2 requires a token URL", types.ErrAuthFailed)
		}
		return NewOAuth2ClientCredentials(provider, configName, tokenURL), nil
	default:
		return nil, fmt.Errorf("unknown authentication mechanism: %s", name)
	}
}
