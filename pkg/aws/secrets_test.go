package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	values     map[string]string
	gets       int
	batchSizes []int
}

func (f *fakeSecretsAPI) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.gets++
	v, ok := f.values[*in.SecretId]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: sdkaws.String("not found")}
	}
	return &secretsmanager.GetSecretValueOutput{Name: in.SecretId, SecretString: sdkaws.String(v)}, nil
}

func (f *fakeSecretsAPI) BatchGetSecretValue(_ context.Context, in *secretsmanager.BatchGetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.BatchGetSecretValueOutput, error) {
	f.batchSizes = append(f.batchSizes, len(in.SecretIdList))
	out := &secretsmanager.BatchGetSecretValueOutput{}
	for _, id := range in.SecretIdList {
		if v, ok := f.values[id]; ok {
			out.SecretValues = append(out.SecretValues, types.SecretValueEntry{Name: sdkaws.String(id), SecretString: sdkaws.String(v)})
		}
	}
	return out, nil
}

func TestSecretsClient_CachesUntilTTL(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]string{"marketplace/JWT_SECRET": "v1"}}
	c := newSecretsClient(api, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	v, err := c.GetSecret(context.Background(), "marketplace/JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	api.values["marketplace/JWT_SECRET"] = "v2"
	v, _ = c.GetSecret(context.Background(), "marketplace/JWT_SECRET")
	assert.Equal(t, "v1", v)
	assert.Equal(t, 1, api.gets)

	now = now.Add(2 * time.Minute)
	v, _ = c.GetSecret(context.Background(), "marketplace/JWT_SECRET")
	assert.Equal(t, "v2", v, "a rotated secret is read after the ttl")
}

func TestSecretsClient_NotFound(t *testing.T) {
	c := newSecretsClient(&fakeSecretsAPI{values: map[string]string{}}, 0)
	_, err := c.GetSecret(context.Background(), "marketplace/STRIPE_SECRET_KEY")
	assert.True(t, errors.Is(err, ErrSecretNotFound))
}

func TestSecretsClient_PrefetchBatches(t *testing.T) {
	values := map[string]string{}
	names := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		name := "marketplace/secret-" + string(rune('a'+i))
		names = append(names, name)
		values[name] = "value-" + string(rune('a'+i))
	}
	api := &fakeSecretsAPI{values: values}
	c := newSecretsClient(api, 0)

	require.NoError(t, c.Prefetch(context.Background(), names...))
	assert.Equal(t, []int{20, 5}, api.batchSizes)

	v, err := c.GetSecret(context.Background(), "marketplace/secret-y")
	require.NoError(t, err)
	assert.Equal(t, "value-y", v)
	assert.Zero(t, api.gets, "prefetched secrets come from the cache")
}
