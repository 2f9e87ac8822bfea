package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8083", cfg.Port)
	assert.Equal(t, 90*time.Second, cfg.CaptureMax)
	assert.Equal(t, 5*time.Second, cfg.ThumbnailTimeout)
	assert.Equal(t, 720*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "memorylane.events", cfg.AMQPExchange)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CAPTURE_MAX_SECONDS", "30")
	t.Setenv("THUMBNAIL_TIMEOUT", "2s")
	t.Setenv("CORS_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("GATEWAY_URL", "https://gw.test/")
	t.Setenv("S3_BUCKET", "media")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.CaptureMax)
	assert.Equal(t, 2*time.Second, cfg.ThumbnailTimeout)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, "https://gw.test", cfg.GatewayURL)
	assert.Equal(t, "media", cfg.S3.Bucket)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("THUMBNAIL_TIMEOUT", "soon")
	_, err := Load()
	assert.ErrorContains(t, err, "THUMBNAIL_TIMEOUT")

	t.Setenv("THUMBNAIL_TIMEOUT", "5s")
	t.Setenv("CAPTURE_MAX_SECONDS", "0")
	_, err = Load()
	assert.ErrorContains(t, err, "CAPTURE_MAX_SECONDS")
}
