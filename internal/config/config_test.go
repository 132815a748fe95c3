package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "sqlite")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "bundle-store.db", cfg.DB.Path)
	assert.Equal(t, 30, cfg.Session.TTLDays)
	assert.Equal(t, 10, cfg.Session.BcryptCost)
	assert.Equal(t, int64(49900), cfg.Product.Price)
	assert.Equal(t, "MNT", cfg.Product.Currency)
	assert.Equal(t, []string{"bank_transfer", "gateway"}, cfg.Product.Methods)
	assert.Equal(t, 10*time.Minute, cfg.Download.TokenTTL)
	assert.Equal(t, time.Minute, cfg.Download.SweepInterval)
	assert.Equal(t, "local", cfg.Artifact.Backend)
	assert.True(t, cfg.Artifact.Placeholder)
	assert.False(t, cfg.Events.Enabled)
}

func TestLoadReportsEveryMissingVariable(t *testing.T) {
	for _, k := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET", "DB_USER", "DB_HOST", "DB_PORT", "DB_NAME"} {
		t.Setenv(k, "")
	}
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	require.Error(t, err)
	for _, k := range []string{"APP_ENV", "APP_PORT", "JWT_SECRET", "DB_USER", "DB_HOST", "DB_PORT", "DB_NAME"} {
		assert.Contains(t, err.Error(), k)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PRODUCT_PRICE", "abc")
	t.Setenv("DOWNLOAD_TOKEN_TTL", "ten minutes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRODUCT_PRICE")
	assert.Contains(t, err.Error(), "DOWNLOAD_TOKEN_TTL")
}

func TestLoadS3RequiresBucket(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ARTIFACT_BACKEND", "s3")
	t.Setenv("ARTIFACT_S3_BUCKET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARTIFACT_S3_BUCKET")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BUNDLE_TEST_A=from-file\nBUNDLE_TEST_B=from-file\n"), 0o600))
	t.Setenv("BUNDLE_TEST_A", "from-env")
	os.Unsetenv("BUNDLE_TEST_B")
	t.Cleanup(func() { os.Unsetenv("BUNDLE_TEST_B") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-env", os.Getenv("BUNDLE_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("BUNDLE_TEST_B"))
}

func TestRateLimitConfigClamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("RATE_LIMIT_TTL", "1s")

	rl := LoadRateLimitConfig()
	assert.Equal(t, 1, rl.Capacity)
	assert.Equal(t, 10*time.Second, rl.TTL)
}

func TestCacheConfigMethods(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	c := LoadCacheConfig()
	assert.True(t, c.Methods["GET"])
	assert.True(t, c.Methods["HEAD"])
	assert.False(t, c.Methods["POST"])
}
