package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Enforcement: EnforcementConfig{Mode: "monitor"},
		RateLimit:   RateLimitConfig{Backend: "memory"},
		Scoring:     ScoringConfig{PenaltyHalfLifeHours: 24},
	}
}

func TestValidate(t *testing.T) {
	t.Run("Accepts Defaults", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("Rejects Unknown Enforcement Mode", func(t *testing.T) {
		cfg := validConfig()
		cfg.Enforcement.Mode = "paranoid"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "enforcement mode")
	})

	t.Run("Rejects Unknown Rate Limit Backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.RateLimit.Backend = "dynamo"
		require.Error(t, cfg.Validate())
	})

	t.Run("Auth Needs A Secret When Enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Auth.Enabled = true
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "jwt_secret")

		cfg.Auth.JWTSecret = "secret"
		require.NoError(t, cfg.Validate())
	})

	t.Run("Half Life Must Be Positive", func(t *testing.T) {
		cfg := validConfig()
		cfg.Scoring.PenaltyHalfLifeHours = 0
		require.Error(t, cfg.Validate())
	})
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{
		Host: "db.internal", Port: 5432,
		Username: "svc", Password: "pw",
		Name: "pactguard", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db.internal port=5432 user=svc password=pw dbname=pactguard sslmode=disable",
		db.GetDatabaseDSN())

	redis := RedisConfig{Host: "cache.internal", Port: 6379}
	assert.Equal(t, "cache.internal:6379", redis.GetRedisAddr())
}
