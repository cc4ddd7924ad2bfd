package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/cuemby/forager/pkg/types"
)

// secretsAPI is the Secrets Manager surface we consume, abstracted for
// tests.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsProvider resolves credentials from AWS Secrets Manager. The
// secret named configName must hold a JSON document; fields are looked
// up as top-level keys. Fetched documents are cached in-process.
type AWSSecretsProvider struct {
	client secretsAPI

	mu    sync.Mutex
	cache map[string]map[string]string
}

// AWSConfig holds optional region and endpoint overrides.
type AWSConfig struct {
	Region   string
	Endpoint string
}

// NewAWSSecretsProvider builds a provider using the default AWS config
// chain, with optional region/endpoint overrides.
func NewAWSSecretsProvider(ctx context.Context, cfg AWSConfig) (*AWSSecretsProvider, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &AWSSecretsProvider{client: client, cache: make(map[string]map[string]string)}, nil
}

func (p *AWSSecretsProvider) GetCredential(ctx context.Context, configName, field string) (string, error) {
	p.mu.Lock()
	doc, ok := p.cache[configName]
	p.mu.Unlock()

	if !ok {
		out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(configName),
		})
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", types.ErrCredentialMissing, configName, err)
		}
		if out.SecretString == nil {
			return "", fmt.Errorf("%w: %s has no string value", types.ErrCredentialMissing, configName)
		}
		doc = make(map[string]string)
		if err := json.Unmarshal([]byte(*out.SecretString), &doc); err != nil {
			return "", fmt.Errorf("failed to parse secret %s: %w", configName, err)
		}
		p.mu.Lock()
		p.cache[configName] = doc
		p.mu.Unlock()
	}

	value, ok := doc[field]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s/%s", types.ErrCredentialMissing, configName, field)
	}
	return value, nil
}
