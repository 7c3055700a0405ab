package device

import (
	"context"
	"io"
	"time"
)

const (
	DefaultPort           = 22
	DefaultCertDir        = "/mnt/flash"
	DefaultProfileName    = "RADSEC"
	DefaultKeyName        = "radsec.key"
	DefaultCertName       = "radsec.crt"
	DefaultKeyBits        = 2048
	DefaultRequiredConfig = "aaa authorization exec default local"
	DefaultParallelism    = 4
	DefaultCommandTimeout = 60 * time.Second

	ProfileStateValid = "valid"
)

type Config struct {
	Username              string        `mapstructure:"username"`
	Password              string        `mapstructure:"password"`
	PrivateKeyFile        string        `mapstructure:"private_key_file"`
	Port                  int           `mapstructure:"port"`
	KnownHostsFile        string        `mapstructure:"known_hosts_file"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecure_ignore_host_key"`
	CommandTimeout        time.Duration `mapstructure:"command_timeout"`
	CertDir               string        `mapstructure:"cert_dir"`
	ProfileName           string        `mapstructure:"profile_name"`
	KeyName               string        `mapstructure:"key_name"`
	CertName              string        `mapstructure:"cert_name"`
	KeyBits               int           `mapstructure:"key_bits"`
	RequiredConfig        string        `mapstructure:"required_config"`
	Parallelism           int           `mapstructure:"parallelism"`
}

// Transport carries CLI commands and files to a device.
type Transport interface {
	// Run executes one exec-mode command and returns its output.
	Run(ctx context.Context, cmd string) (string, error)
	// RunBatch writes cmds, in order, to a single CLI session.
	RunBatch(ctx context.Context, cmds []string) (string, error)
	// Upload copies size bytes from r to remotePath.
	Upload(ctx context.Context, r io.Reader, size int64, remotePath string) error
	Close() error
}

// Identity holds the facts read from a device once per run.
type Identity struct {
	SerialNumber      string
	MACAddress        string
	Hostname          string
	ManagementAddress string
}

// CSRSubject holds the operator supplied subject fields of a CSR.
type CSRSubject struct {
	Country            string
	State              string
	Locality           string
	Organization       string
	OrganizationalUnit string
}

// ProfileStatus is the device's view of a TLS profile.
type ProfileStatus struct {
	Name   string
	State  string
	Errors []string
}

func (s ProfileStatus) Valid() bool {
	return s.State == ProfileStateValid && len(s.Errors) == 0
}

// WithDefaults fills every unset field with its default.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.CertDir == "" {
		c.CertDir = DefaultCertDir
	}
	if c.ProfileName == "" {
		c.ProfileName = DefaultProfileName
	}
	if c.KeyName == "" {
		c.KeyName = DefaultKeyName
	}
	if c.CertName == "" {
		c.CertName = DefaultCertName
	}
	if c.KeyBits == 0 {
		c.KeyBits = DefaultKeyBits
	}
	if c.RequiredConfig == "" {
		c.RequiredConfig = DefaultRequiredConfig
	}
	if c.Parallelism < 1 {
		c.Parallelism = DefaultParallelism
	}
	return c
}
