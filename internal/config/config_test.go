package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Host == "" {
		t.Error("expected Server.Host to be set")
	}
	if cfg.Server.Port == 0 {
		t.Error("expected Server.Port to be non-zero")
	}
	if cfg.Database.Name == "" {
		t.Error("expected Database.Name to be set")
	}
	if cfg.Log.Level == "" {
		t.Error("expected Log.Level to be set")
	}
}

func TestConfig_MessagingDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, 10, cfg.Messaging.MaxMessagesBeforeHandoff)
	assert.Equal(t, 24*time.Hour, cfg.Messaging.MaxConversationAge)
	assert.ElementsMatch(t, []string{"urgent", "emergency", "complaint", "problem", "issue"}, cfg.Messaging.UrgentKeywords)
	assert.Contains(t, cfg.Messaging.HumanRequestPhrases, "speak to someone")
	assert.NotEmpty(t, cfg.Messaging.FallbackMessage)
}

func TestConfig_RoutingDefaults(t *testing.T) {
	rc := GetDefaultConfig().Routing

	assert.Equal(t, 5, rc.DefaultCapacity)
	assert.Greater(t, rc.RoleWeights["admin"], rc.RoleWeights["manager"])
	assert.Greater(t, rc.RoleWeights["manager"], rc.RoleWeights["agent"])
	assert.Greater(t, rc.RoleWeights["agent"], rc.RoleWeights["sales"])
	assert.Greater(t, rc.RoleWeights["sales"], rc.RoleWeights["marketing"])
	assert.Zero(t, rc.RoleWeights["viewer"])
}

func TestConfig_CampaignDefaults(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, 30, cfg.Campaign.RateLimitPerMinute)
	assert.Equal(t, time.Minute, cfg.Campaign.BatchInterval)
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5432 sslmode=disable TimeZone=UTC", d.PostgresDSN())

	d.DSN = "postgres://x"
	assert.Equal(t, "postgres://x", d.PostgresDSN())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("campaign.rate_limit_per_minute", 12)
	viper.Set("routing.default_capacity", 3)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Campaign.RateLimitPerMinute)
	assert.Equal(t, 3, cfg.Routing.DefaultCapacity)
	// untouched keys keep their defaults
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, float64(100), cfg.Routing.RoleWeights["admin"])
}

func TestInitLogger_FileOutput(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Output = "file"
	cfg.Log.Format = "text"
	cfg.Log.FilePath = filepath.Join(t.TempDir(), "logs", "app.log")

	logger, err := InitLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("hello")
}

func TestInitLogger_FileOutputRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Log.Output = "file"
	cfg.Log.FilePath = ""

	_, err := InitLogger(cfg)
	assert.Error(t, err)
}
