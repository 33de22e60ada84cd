package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "ENVIRONMENT", "JWT_LIFETIME", "VERIFY_MODE", "VERIFY_TIMEOUT", "USER_STORE",
		"KAFKA_TOPIC", "KAFKA_GROUP_ID", "KAFKA_BROKERS", "MAX_UPLOAD_BYTES", "EMAIL_FROM_NAME", "EMAIL_SUBJECT")

	c, err := Load(3001)
	require.NoError(t, err)

	assert.Equal(t, 3001, c.ServerPort)
	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 30*24*time.Hour, c.Auth.JWTLifetime)
	assert.Equal(t, "mongo", c.Auth.UserStore)
	assert.Equal(t, "remote", c.Gateway.VerifyMode)
	assert.Equal(t, 2*time.Second, c.Gateway.VerifyTimeout)
	assert.Equal(t, int64(10<<20), c.Expense.MaxUploadBytes)
	assert.Equal(t, "notification-messages", c.Kafka.Topic)
	assert.Equal(t, "notification-group", c.Notifier.GroupID)
	assert.Equal(t, "Typeface", c.Notifier.FromName)
	assert.Equal(t, "Notification from Typeface", c.Notifier.Subject)
	assert.Empty(t, c.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_LIFETIME", "12h")
	t.Setenv("VERIFY_MODE", "LOCAL")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("AUTH_SERVICE_URL", "http://auth:3001/")

	c, err := Load(3001)
	require.NoError(t, err)

	assert.Equal(t, 9090, c.ServerPort)
	assert.Equal(t, 12*time.Hour, c.Auth.JWTLifetime)
	assert.Equal(t, "local", c.Gateway.VerifyMode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, "http://auth:3001", c.Gateway.AuthServiceURL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"bad port":        {"PORT", "abc"},
		"bad duration":    {"VERIFY_TIMEOUT", "soon"},
		"bad store":       {"USER_STORE", "sqlite"},
		"bad verify mode": {"VERIFY_MODE", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load(3001)
			assert.Error(t, err)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("30d")
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, d)

	d, err = ParseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDuration("xd")
	assert.Error(t, err)
	_, err = ParseDuration("-5m")
	assert.Error(t, err)
}

func TestTokenSecret(t *testing.T) {
	c := &Config{Environment: "production"}
	_, err := c.TokenSecret()
	assert.Error(t, err)

	c.Environment = "development"
	s, err := c.TokenSecret()
	require.NoError(t, err)
	assert.NotEmpty(t, s)

	c.Auth.JWTSecret = "real"
	s, err = c.TokenSecret()
	require.NoError(t, err)
	assert.Equal(t, "real", s)
}
