package provisioning

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/cert"
	"github.com/EternisAI/radsec-provisioner/internal/device"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/staging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Credentials Credentials
	CSR         CSRInfo
	Device      device.Config
	CAFile      string
}

// Provisioner runs the RadSec provisioning workflow over a batch of devices.
type Provisioner struct {
	identity IdentityService
	dialer   Dialer
	stager   *staging.Stager
	store    ledger.Store

	creds  Credentials
	csr    CSRInfo
	device device.Config
	caFile string

	now func() time.Time
}

func New(identity IdentityService, dialer Dialer, stager *staging.Stager, store ledger.Store, cfg Config) *Provisioner {
	if store == nil {
		store = ledger.NewMemoryStore(ledger.DefaultRetention)
	}
	caFile := cfg.CAFile
	if caFile == "" {
		caFile = staging.DefaultCAFile
	}

	return &Provisioner{
		identity: identity,
		dialer:   dialer,
		stager:   stager,
		store:    store,
		creds:    cfg.Credentials,
		csr:      cfg.CSR,
		device:   cfg.Device.WithDefaults(),
		caFile:   caFile,
		now:      time.Now,
	}
}

// Validate checks the batch-wide inputs without touching the network.
func (p *Provisioner) Validate() error {
	return ValidateInputs(p.creds, p.csr)
}

// Run provisions every target and reports each outcome. Devices fail
// independently; only invalid inputs or an unusable ledger abort the batch.
func (p *Provisioner) Run(ctx context.Context, targets []Target) (*Report, error) {
	return p.RunWithID(ctx, uuid.NewString(), targets)
}

func (p *Provisioner) RunWithID(ctx context.Context, runID string, targets []Target) (*Report, error) {
	if err := p.begin(ctx, runID, targets); err != nil {
		return nil, err
	}
	return p.execute(ctx, runID, targets), nil
}

// begin validates the batch and records the run.
func (p *Provisioner) begin(ctx context.Context, runID string, targets []Target) error {
	if err := p.Validate(); err != nil {
		return &StageError{Stage: StagePrecheck, Err: err}
	}
	if len(targets) == 0 {
		return &StageError{Stage: StagePrecheck, Err: fmt.Errorf("%w: no devices to provision", ErrConfiguration)}
	}
	if err := p.store.CreateRun(ctx, runID, p.now(), len(targets)); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

func (p *Provisioner) execute(ctx context.Context, runID string, targets []Target) *Report {
	log := slog.With("run_id", runID)

	caPath := filepath.Join(p.stager.Dir(), p.caFile)
	ca := newCARefs(len(targets), func() {
		if err := p.stager.Remove(caPath); err != nil {
			log.Warn("Failed to clean up staged CA certificate", "error", err)
		}
	})

	artifacts := sync.OnceValues(func() (*Artifacts, error) {
		return p.prepare(ctx, log)
	})

	log.Info("Starting provisioning run", "devices", len(targets), "parallelism", p.device.Parallelism)

	report := &Report{RunID: runID, Results: make([]Result, len(targets))}

	// A plain group: one failing device must not cancel the others.
	g := new(errgroup.Group)
	g.SetLimit(p.device.Parallelism)
	for i, target := range targets {
		g.Go(func() error {
			res := p.provisionDevice(ctx, runID, target, artifacts, ca.hold())
			report.Results[i] = res
			p.record(ctx, res)
			return nil
		})
	}
	_ = g.Wait()

	if err := p.store.FinishRun(context.WithoutCancel(ctx), runID, p.now()); err != nil {
		log.Warn("Failed to record run completion", "error", err)
	}

	log.Info("Provisioning run finished", "devices", len(targets), "failed", report.Failed())
	return report
}

// caRefs removes the staged CA once every device of the batch has either
// uploaded it or stopped before needing it.
type caRefs struct {
	pending atomic.Int64
	remove  func()
}

func newCARefs(devices int, remove func()) *caRefs {
	r := &caRefs{remove: remove}
	r.pending.Store(int64(devices))
	return r
}

// hold returns the release func for one device. Only its first call counts.
func (r *caRefs) hold() func() {
	return sync.OnceFunc(func() {
		if r.pending.Add(-1) == 0 {
			r.remove()
		}
	})
}

// prepare authenticates and stages the CA certificate. It runs at most once
// per batch.
func (p *Provisioner) prepare(ctx context.Context, log *slog.Logger) (*Artifacts, error) {
	session, err := p.identity.Authenticate(ctx, p.creds.KeyID, p.creds.KeyValue)
	if err != nil {
		return nil, &StageError{Stage: StageAuthenticate, Err: err}
	}
	log.Info("Authenticated with identity service", "session", session.String())

	caPEM, err := p.identity.FetchCA(ctx, session)
	if err != nil {
		return nil, &StageError{Stage: StageFetchCA, Err: err}
	}

	if summary, err := cert.CheckCA(caPEM); err != nil {
		log.Warn("CA certificate could not be verified as a CA", "error", err)
	} else {
		log.Info("Fetched CA certificate",
			"subject", summary.Subject,
			"fingerprint", summary.Fingerprint,
			"not_after", summary.NotAfter)
	}

	caPath, err := p.stager.Stage(p.caFile, caPEM)
	if err != nil {
		return nil, &StageError{Stage: StageFetchCA, Err: err}
	}

	return &Artifacts{
		Session:       session,
		CACertificate: caPEM,
		CAPath:        caPath,
	}, nil
}

func (p *Provisioner) record(ctx context.Context, res Result) {
	entry := ledger.DeviceResult{
		Host:            res.Target.Host,
		Hostname:        res.Hostname,
		SerialNumber:    res.SerialNumber,
		Stage:           string(res.Stage),
		Status:          string(res.Status),
		CertFingerprint: res.CertFingerprint,
		StartedAt:       res.Started,
		FinishedAt:      res.Finished,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if !res.CertNotAfter.IsZero() {
		notAfter := res.CertNotAfter
		entry.CertNotAfter = &notAfter
	}

	if err := p.store.RecordDevice(context.WithoutCancel(ctx), res.RunID, entry); err != nil {
		slog.Warn("Failed to record device result", "run_id", res.RunID, "host", res.Target.Host, "error", err)
	}
}
