package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/cuemby/forager/pkg/credentials"
	"github.com/cuemby/forager/pkg/types"
)

const defaultSafetyMargin = 30 * time.Second

// OAuth2ClientCredentials performs an RFC 6749 §4.4 client-credentials
// exchange against TokenURL, authenticating with HTTP Basic of
// consumer_key:consumer_secret. The access token is cached until
// expiry minus SafetyMargin; concurrent refreshes coalesce into a
// single exchange.
type OAuth2ClientCredentials struct {
	Provider     credentials.Provider
	ConfigName   string
	TokenURL     string
	SafetyMargin time.Duration
	KeyField     string
	SecretField  string

	// HTTPClient overrides the client used for the token exchange.
	HTTPClient *http.Client

	group singleflight.Group

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewOAuth2ClientCredentials creates the mechanism with default field
// names ("consumer_key", "consumer_secret") and safety margin.
func NewOAuth2ClientCredentials(provider credentials.Provider, configName, tokenURL string) *OAuth2ClientCredentials {
	return &OAuth2ClientCredentials{
		Provider:     provider,
		ConfigName:   configName,
		TokenURL:     tokenURL,
		SafetyMargin: defaultSafetyMargin,
	}
}

func (o *OAuth2ClientCredentials) Apply(ctx context.Context, header http.Header) error {
	token, err := o.currentToken(ctx)
	if err != nil {
		return err
	}
	header.Set("Authorization", "Bearer "+token)
	return nil
}

func (o *OAuth2ClientCredentials) currentToken(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.token != "" && time.Now().Before(o.expiry) {
		token := o.token
		o.mu.Unlock()
		return token, nil
	}
	o.mu.Unlock()

	// Coalesce concurrent refreshes onto one exchange.
	v, err, _ := o.group.Do("token", func() (any, error) {
		o.mu.Lock()
		if o.token != "" && time.Now().Before(o.expiry) {
			token := o.token
			o.mu.Unlock()
			return token, nil
		}
		o.mu.Unlock()
		return o.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *OAuth2ClientCredentials) exchange(ctx context.Context) (string, error) {
	keyField := o.KeyField
	if keyField == "" {
		keyField = "consumer_key"
	}
	secretField := o.SecretField
	if secretField == "" {
		secretField = "consumer_secret"
	}

	key, err := o.Provider.GetCredential(ctx, o.ConfigName, keyField)
	if err != nil {
		return "", err
	}
	secret, err := o.Provider.GetCredential(ctx, o.ConfigName, secretField)
	if err != nil {
		return "", err
	}

	cfg := &clientcredentials.Config{
		ClientID:     key,
		ClientSecret: secret,
		TokenURL:     o.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	if o.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, o.HTTPClient)
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", types.ErrAuthFailed, err)
	}

	margin := o.SafetyMargin
	if margin <= 0 {
		margin = defaultSafetyMargin
	}

	o.mu.Lock()
	o.token = tok.AccessToken
	if tok.Expiry.IsZero() {
		// No expires_in in the response; refresh each minute.
		o.expiry = time.Now().Add(time.Minute)
	} else {
		o.expiry = tok.Expiry.Add(-margin)
	}
	o.mu.Unlock()

	return tok.AccessToken, nil
}
