package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecret(_ context.Context, name string) (string, error) {
	if v, ok := f[name]; ok {
		return v, nil
	}
	return "", errors.New("secret not found")
}

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("INVOICE_TTL", "15m")
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.com/")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "marketplace", cfg.MongoDB)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.InvoiceTTL)
	assert.Equal(t, "https://api.example.com", cfg.PublicBaseURL)
	assert.Equal(t, "SAR", cfg.Currency)
}

func TestValidate_RequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	assert.EqualError(t, FromEnv().Validate(), "JWT_SECRET is required")

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("MONGO_URL", "")
	assert.EqualError(t, FromEnv().Validate(), "MONGO_URL is required")
}

func TestApplySecrets_OverridesOnlyFoundValues(t *testing.T) {
	cfg := &Config{JWTSecret: "from-env", StripeSecretKey: "sk_env"}
	ApplySecrets(context.Background(), cfg, fakeSecrets{
		"marketplace/JWT_SECRET":         "from-secrets",
		"marketplace/MOYASAR_SECRET_KEY": "sk_moyasar",
	})

	assert.Equal(t, "from-secrets", cfg.JWTSecret)
	assert.Equal(t, "sk_moyasar", cfg.MoyasarSecretKey)
	assert.Equal(t, "sk_env", cfg.StripeSecretKey)
}
