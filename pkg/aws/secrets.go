package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// ErrSecretNotFound is returned when the secret does not exist or has no string value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretGetter reads a named secret string.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// secretsAPI is the part of the Secrets Manager client used here.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	BatchGetSecretValue(ctx context.Context, in *secretsmanager.BatchGetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error)
}

// batchLimit is the most ids BatchGetSecretValue accepts per call.
const batchLimit = 20

type cachedSecret struct {
	value     string
	fetchedAt time.Time
}

// SecretsClient reads gateway keys and signing secrets from Secrets Manager. Values
// are cached for ttl; zero keeps them for the process lifetime.
type SecretsClient struct {
	api   secretsAPI
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	cache map[string]cachedSecret
}

func NewSecretsClient(cfg sdkaws.Config, ttl time.Duration) *SecretsClient {
	return newSecretsClient(secretsmanager.NewFromConfig(cfg), ttl)
}

func newSecretsClient(api secretsAPI, ttl time.Duration) *SecretsClient {
	return &SecretsClient{api: api, ttl: ttl, now: time.Now, cache: make(map[string]cachedSecret)}
}

func (s *SecretsClient) cached(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cache[name]
	if !ok || (s.ttl > 0 && s.now().Sub(c.fetchedAt) > s.ttl) {
		return "", false
	}
	return c.value, true
}

func (s *SecretsClient) store(name, value string) {
	s.mu.Lock()
	s.cache[name] = cachedSecret{value: value, fetchedAt: s.now()}
	s.mu.Unlock()
}

func (s *SecretsClient) GetSecret(ctx context.Context, name string) (string, error) {
	if v, ok := s.cached(name); ok {
		return v, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	var missing *types.ResourceNotFoundException
	if errors.As(err, &missing) {
		return "", fmt.Errorf("%s: %w", name, ErrSecretNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%s has no string value: %w", name, ErrSecretNotFound)
	}
	s.store(name, *out.SecretString)
	return *out.SecretString, nil
}

// Prefetch loads names in batches so startup costs one call per twenty secrets.
// Names the batch could not return are left for GetSecret to report.
func (s *SecretsClient) Prefetch(ctx context.Context, names ...string) error {
	for start := 0; start < len(names); start += batchLimit {
		end := min(start+batchLimit, len(names))
		out, err := s.api.BatchGetSecretValue(ctx, &secretsmanager.BatchGetSecretValueInput{
			SecretIdList: names[start:end],
		})
		if err != nil {
			return fmt.Errorf("batch get secrets: %w", err)
		}
		for _, entry := range out.SecretValues {
			if entry.Name != nil && entry.SecretString != nil {
				s.store(*entry.Name, *entry.SecretString)
			}
		}
	}
	return nil
}
