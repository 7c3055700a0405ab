package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/device"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
	"github.com/EternisAI/radsec-provisioner/internal/staging"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	file := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(file, []byte("identity:\n  key_id: k1\n"), 0o600))

	cfg, err := loadConfig(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "k1", cfg.Identity.KeyID)
	assert.Equal(t, identity.DefaultBaseURL, cfg.Identity.BaseURL)
	assert.Equal(t, 10, cfg.Identity.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Identity.Retry.Delay)
	assert.Equal(t, staging.DefaultDir, cfg.Staging.Dir)
	assert.Equal(t, staging.DefaultCAFile, cfg.Staging.CAFile)
	assert.Equal(t, device.DefaultRequiredConfig, cfg.Device.RequiredConfig)
	assert.Equal(t, 60*time.Second, cfg.Device.CommandTimeout)
	assert.Equal(t, 4, cfg.Device.Parallelism)
	assert.False(t, cfg.DB.Enabled())
	assert.Equal(t, LOG_FORMAT_TEXT, cfg.Log.Format)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	file := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(file, []byte("device:\n  username: admin\n"), 0o600))

	t.Setenv("DEVICE_PASSWORD", "from-env")
	t.Setenv("IDENTITY_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("CSR_ORGANIZATIONAL_UNIT", "NetOps")

	cfg, err := loadConfig(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "admin", cfg.Device.Username)
	assert.Equal(t, "from-env", cfg.Device.Password)
	assert.Equal(t, 3, cfg.Identity.Retry.MaxAttempts)
	assert.Equal(t, "NetOps", cfg.CSR.OrganizationalUnit)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigRedacted(t *testing.T) {
	var cfg Config
	cfg.Identity.KeyID = "k1"
	cfg.Identity.KeyValue = "v1"
	cfg.Device.Password = "secret"
	cfg.JWT.Secret = "jwt"

	r := cfg.redacted()
	assert.Equal(t, "k1", r.Identity.KeyID)
	assert.Equal(t, redacted, r.Identity.KeyValue)
	assert.Equal(t, redacted, r.Device.Password)
	assert.Equal(t, redacted, r.JWT.Secret)
	assert.Empty(t, r.DB.URL)
	assert.Equal(t, "v1", cfg.Identity.KeyValue)
}

func TestProvisioningConfig(t *testing.T) {
	var cfg Config
	cfg.Identity.KeyID = "k1"
	cfg.Identity.KeyValue = "v1"
	cfg.Identity.OrgID = "o1"
	cfg.Staging.CAFile = "ca.crt"

	pc := cfg.provisioningConfig()
	assert.Equal(t, "k1", pc.Credentials.KeyID)
	assert.Equal(t, "v1", pc.Credentials.KeyValue)
	assert.Equal(t, "o1", pc.Credentials.OrgID)
	assert.Equal(t, "ca.crt", pc.CAFile)
}
