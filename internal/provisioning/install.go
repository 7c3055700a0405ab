package provisioning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/EternisAI/radsec-provisioner/internal/device"
)

// install copies the CA and the signed certificate to the device, imports
// both and binds them to the TLS profile. Nothing is rolled back on failure.
func (p *Provisioner) install(ctx context.Context, dev Device, hostname string, art *Artifacts, certPEM string, releaseCA func()) error {
	certName := p.device.CertName

	if err := p.transfer(ctx, dev, hostname, art.CAPath, certPEM, releaseCA); err != nil {
		return fmt.Errorf("%w: %w", ErrInstall, err)
	}

	cmds := device.InstallCommands(p.device.CertDir, p.caFile, certName, p.device.KeyName, p.device.ProfileName)
	if err := dev.Configure(ctx, cmds); err != nil {
		return fmt.Errorf("%w: failed to bind TLS profile %s: %w", ErrInstall, p.device.ProfileName, err)
	}

	slog.Info("Installed certificates", "hostname", hostname, "profile", p.device.ProfileName)
	return nil
}

// transfer stages the device certificate, uploads it with the CA and removes
// the staged copy whatever the outcome.
func (p *Provisioner) transfer(ctx context.Context, dev Device, hostname, caPath, certPEM string, releaseCA func()) error {
	certPath, err := p.stager.Stage(hostname+"-"+p.device.CertName, certPEM)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.stager.Remove(certPath); err != nil {
			slog.Warn("Failed to clean up staged certificate", "hostname", hostname, "error", err)
		}
	}()

	if err := p.upload(ctx, dev, caPath, p.caFile); err != nil {
		return err
	}
	releaseCA()
	return p.upload(ctx, dev, certPath, p.device.CertName)
}

func (p *Provisioner) upload(ctx context.Context, dev Device, localPath, remoteName string) error {
	f, size, err := p.stager.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := dev.Upload(ctx, f, size, p.device.CertDir, remoteName); err != nil {
		return fmt.Errorf("failed to copy %s to device: %w", remoteName, err)
	}
	return nil
}
