package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	internalhttp "github.com/EternisAI/radsec-provisioner/internal/api/http"
	"github.com/EternisAI/radsec-provisioner/internal/auth"
	"github.com/EternisAI/radsec-provisioner/internal/db"
	"github.com/EternisAI/radsec-provisioner/internal/device"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"github.com/EternisAI/radsec-provisioner/internal/retry"
	"github.com/EternisAI/radsec-provisioner/internal/staging"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const redacted = "******"

type Config struct {
	Log      LogConfig            `mapstructure:"log"`
	Http     internalhttp.Config  `mapstructure:"http"`
	JWT      auth.Config          `mapstructure:"jwt"`
	DB       db.Config            `mapstructure:"db"`
	Identity identity.Config      `mapstructure:"identity"`
	CSR      provisioning.CSRInfo `mapstructure:"csr"`
	Device   device.Config        `mapstructure:"device"`
	Staging  staging.Config       `mapstructure:"staging"`
	Ledger   LedgerConfig         `mapstructure:"ledger"`
}

// LedgerConfig applies to the in-memory ledger only.
type LedgerConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("log.format", LOG_FORMAT_TEXT)
	v.SetDefault("http.port", internalhttp.DefaultPort)
	v.SetDefault("jwt.expiry_hours", auth.DefaultExpiryHours)
	v.SetDefault("db.schema", "radsec")

	v.SetDefault("identity.base_url", identity.DefaultBaseURL)
	v.SetDefault("identity.vendor", identity.DefaultVendor)
	v.SetDefault("identity.timeout", identity.DefaultTimeout)
	v.SetDefault("identity.retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("identity.retry.delay", retry.DefaultDelay)

	v.SetDefault("staging.dir", staging.DefaultDir)
	v.SetDefault("staging.ca_file", staging.DefaultCAFile)

	v.SetDefault("device.port", device.DefaultPort)
	v.SetDefault("device.known_hosts_file", "~/.ssh/known_hosts")
	v.SetDefault("device.insecure_ignore_host_key", false)
	v.SetDefault("device.cert_dir", device.DefaultCertDir)
	v.SetDefault("device.profile_name", device.DefaultProfileName)
	v.SetDefault("device.key_name", device.DefaultKeyName)
	v.SetDefault("device.cert_name", device.DefaultCertName)
	v.SetDefault("device.key_bits", device.DefaultKeyBits)
	v.SetDefault("device.required_config", device.DefaultRequiredConfig)
	v.SetDefault("device.parallelism", device.DefaultParallelism)
	v.SetDefault("device.command_timeout", device.DefaultCommandTimeout)

	v.SetDefault("ledger.retention", ledger.DefaultRetention)
	v.SetDefault("ledger.cleanup_interval", ledger.DefaultCleanupInterval)

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{
		"identity.key_id", "identity.key_value", "identity.org_id",
		"csr.country", "csr.state", "csr.locality", "csr.organization", "csr.organizational_unit",
		"device.username", "device.password", "device.private_key_file",
		"jwt.secret", "db.url",
	} {
		v.SetDefault(key, "")
	}
}

func loadConfig(v *viper.Viper, configFile string) (Config, error) {
	var cfg Config

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/radsec-provisioner")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func InitConfig(configFile string) error {
	_ = godotenv.Load()

	cfg, err := loadConfig(viper.GetViper(), configFile)
	if err != nil {
		return err
	}
	config = cfg

	initLogger(config.Log)

	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config.redacted(), "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stderr, "Config loaded:")
			fmt.Fprintln(os.Stderr, string(configJSON))
		}
	}
	return nil
}

// redacted returns a copy safe to print.
func (c Config) redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&c.Identity.KeyValue)
	mask(&c.Device.Password)
	mask(&c.JWT.Secret)
	mask(&c.DB.URL)
	return c
}

func (c Config) provisioningConfig() provisioning.Config {
	return provisioning.Config{
		Credentials: provisioning.Credentials{
			KeyID:    c.Identity.KeyID,
			KeyValue: c.Identity.KeyValue,
			OrgID:    c.Identity.OrgID,
		},
		CSR:    c.CSR,
		Device: c.Device,
		CAFile: c.Staging.CAFile,
	}
}
