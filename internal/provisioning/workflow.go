package provisioning

import (
	"context"
	"errors"
	"log/slog"

	"github.com/EternisAI/radsec-provisioner/internal/cert"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
)

// provisionDevice walks one device through every stage in order and stops at
// the first failure. releaseCA is called once the device no longer needs the
// staged CA.
func (p *Provisioner) provisionDevice(ctx context.Context, runID string, target Target, artifacts func() (*Artifacts, error), releaseCA func()) Result {
	defer releaseCA()

	res := Result{
		RunID:   runID,
		Target:  target,
		Stage:   StageConnect,
		Status:  StatusFailed,
		Started: p.now(),
	}
	log := slog.With("run_id", runID, "host", target.Host)

	fail := func(stage Stage, err error) Result {
		res.Stage = stage
		var se *StageError
		if errors.As(err, &se) {
			res.Stage = se.Stage
			res.Err = err
		} else {
			res.Err = &StageError{Stage: stage, Err: err}
		}
		res.Finished = p.now()
		log.Error("Device provisioning failed", "hostname", res.Hostname, "stage", res.Stage, "error", err)
		return res
	}

	dev, err := p.dialer.Dial(ctx, target)
	if err != nil {
		return fail(StageConnect, err)
	}
	defer func() {
		if err := dev.Close(); err != nil {
			log.Debug("Failed to close device connection", "error", err)
		}
	}()

	runningConfig, err := dev.RunningConfig(ctx)
	if err != nil {
		return fail(StagePrecheck, err)
	}
	if err := CheckDeviceConfig(runningConfig, p.device.RequiredConfig); err != nil {
		return fail(StagePrecheck, err)
	}

	id, err := dev.Identity(ctx)
	if err != nil {
		return fail(StageFacts, err)
	}
	res.Hostname = id.Hostname
	res.SerialNumber = id.SerialNumber
	log = log.With("hostname", id.Hostname)
	log.Info("Gathered device facts", "serial_number", id.SerialNumber, "mac", id.MACAddress)

	art, err := artifacts()
	if err != nil {
		return fail(StageAuthenticate, err)
	}

	err = p.identity.EnsureRegistered(ctx, art.Session, p.creds.OrgID, identity.DeviceRegistration{
		SerialNumber: id.SerialNumber,
		MAC:          id.MACAddress,
		IPAddress:    id.ManagementAddress,
		Name:         id.Hostname,
	})
	if err != nil {
		return fail(StageRegister, err)
	}

	if err := dev.GenerateKey(ctx, p.device.KeyName, p.device.KeyBits); err != nil {
		return fail(StageGenerateKey, err)
	}

	csr, err := dev.GenerateCSR(ctx, p.device.KeyName, id.MACAddress, p.csr.Subject(), id.Hostname)
	if err != nil {
		return fail(StageGenerateCSR, err)
	}

	certPEM, err := p.identity.Enroll(ctx, art.Session, p.creds.OrgID, csr)
	if err != nil {
		return fail(StageEnroll, err)
	}

	if summary, err := cert.Inspect(certPEM); err != nil {
		log.Warn("Signed certificate could not be parsed", "error", err)
	} else {
		res.CertFingerprint = summary.Fingerprint
		res.CertNotAfter = summary.NotAfter
		log.Info("Certificate issued", "fingerprint", summary.Fingerprint, "not_after", summary.NotAfter)
		if err := cert.VerifyIssuedBy(certPEM, art.CACertificate); err != nil {
			log.Warn("Signed certificate does not chain to the fetched CA", "error", err)
		}
	}

	if err := p.install(ctx, dev, id.Hostname, art, certPEM, releaseCA); err != nil {
		return fail(StageInstall, err)
	}

	status, err := dev.ProfileStatus(ctx, p.device.ProfileName)
	if err != nil {
		return fail(StageValidate, err)
	}
	if err := ValidateProfile(status); err != nil {
		return fail(StageValidate, err)
	}

	res.Stage = StageDone
	res.Status = StatusSucceeded
	res.Finished = p.now()
	log.Info("Device provisioned", "profile", p.device.ProfileName, "duration", res.Finished.Sub(res.Started))
	return res
}
