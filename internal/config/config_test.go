package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "token")
	t.Setenv("DISPATCH_MODE", " Queue ")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DispatchQueue, cfg.DispatchMode)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SessionSweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.RenderTimeout)
	assert.Equal(t, 30*time.Second, cfg.DownloadTimeout)
	assert.Equal(t, 2, cfg.MaxConcurrentRenders)
	assert.Equal(t, "video_jobs", cfg.QueueName)
	assert.Equal(t, "https://backboard.railway.app/graphql/v2", cfg.RailwayAPIURL)
	assert.NoError(t, cfg.ValidateBot())
}

func TestLoadRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_RENDERS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateBot(t *testing.T) {
	cfg := &Config{DispatchMode: DispatchInline, SessionTimeout: time.Minute, SessionSweepInterval: time.Minute}
	assert.EqualError(t, cfg.ValidateBot(), "BOT_TOKEN is required")

	cfg.BotToken = "t"
	assert.Error(t, cfg.ValidateBot(), "inline mode needs a delivery url")

	cfg.DeliveryURL = "http://localhost:9000"
	assert.NoError(t, cfg.ValidateBot())

	cfg.DispatchMode = "carrier-pigeon"
	assert.Error(t, cfg.ValidateBot())
}

func TestValidateWorker(t *testing.T) {
	cfg := &Config{BotToken: "t", RedisURL: "redis://x"}
	assert.EqualError(t, cfg.ValidateWorker(), "DELIVERY_URL is required")

	cfg.DeliveryURL = "http://x"
	assert.NoError(t, cfg.ValidateWorker())
}

func TestProcessURLAndOrigins(t *testing.T) {
	cfg := &Config{DeliveryURL: "https://worker.example.com/", CorsAllowedOrigins: " https://a.com, ,https://b.com"}
	assert.Equal(t, "https://worker.example.com/process", cfg.ProcessURL())
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, cfg.CorsOrigins())

	cfg.CorsAllowedOrigins = ""
	assert.Equal(t, []string{"*"}, cfg.CorsOrigins())
}

func TestDeploymentControlConfigured(t *testing.T) {
	cfg := &Config{RailwayAPIToken: "tok"}
	assert.False(t, cfg.DeploymentControlConfigured())
	cfg.RailwayServiceID = "svc"
	assert.True(t, cfg.DeploymentControlConfigured())
}
