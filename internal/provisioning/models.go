package provisioning

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/device"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
)

type Stage string

const (
	StagePrecheck     Stage = "precheck"
	StageConnect      Stage = "connect"
	StageFacts        Stage = "gather_facts"
	StageAuthenticate Stage = "authenticate"
	StageFetchCA      Stage = "fetch_ca"
	StageRegister     Stage = "register"
	StageGenerateKey  Stage = "generate_key"
	StageGenerateCSR  Stage = "generate_csr"
	StageEnroll       Stage = "enroll"
	StageInstall      Stage = "install"
	StageValidate     Stage = "validate_profile"
	StageDone         Stage = "done"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Target is one device to provision.
type Target struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port,omitempty" json:"port,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
}

// IdentityService is the part of the identity service API the workflow uses.
type IdentityService interface {
	Authenticate(ctx context.Context, keyID, keyValue string) (identity.Session, error)
	EnsureRegistered(ctx context.Context, session identity.Session, orgID string, reg identity.DeviceRegistration) error
	FetchCA(ctx context.Context, session identity.Session) (string, error)
	Enroll(ctx context.Context, session identity.Session, orgID, csr string) (string, error)
}

// Device is a connected network device.
type Device interface {
	Identity(ctx context.Context) (device.Identity, error)
	RunningConfig(ctx context.Context) (string, error)
	GenerateKey(ctx context.Context, name string, bits int) error
	GenerateCSR(ctx context.Context, keyName, commonName string, subject device.CSRSubject, sanDNS string) (string, error)
	Upload(ctx context.Context, content io.Reader, size int64, dir, name string) error
	Configure(ctx context.Context, cmds []string) error
	ProfileStatus(ctx context.Context, name string) (device.ProfileStatus, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, target Target) (Device, error)
}

type DialerFunc func(ctx context.Context, target Target) (Device, error)

func (f DialerFunc) Dial(ctx context.Context, target Target) (Device, error) {
	return f(ctx, target)
}

// Artifacts are produced once per batch and shared read-only by every device.
type Artifacts struct {
	Session       identity.Session
	CACertificate string
	CAPath        string
}

// Result is the outcome of one device's workflow.
type Result struct {
	RunID           string
	Target          Target
	Hostname        string
	SerialNumber    string
	Stage           Stage
	Status          Status
	Err             error
	CertFingerprint string
	CertNotAfter    time.Time
	Started         time.Time
	Finished        time.Time
}

// Report collects the results of a batch in target order.
type Report struct {
	RunID   string
	Results []Result
}

func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			n++
		}
	}
	return n
}

// Err joins the errors of every failed device.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
