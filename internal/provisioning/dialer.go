package provisioning

import (
	"context"

	"github.com/EternisAI/radsec-provisioner/internal/device"
)

// NewSSHDialer connects to EOS devices over SSH using cfg's credentials.
func NewSSHDialer(cfg device.Config) Dialer {
	return DialerFunc(func(ctx context.Context, target Target) (Device, error) {
		tr, err := device.DialSSH(ctx, cfg, target.Host, target.Port, target.Username)
		if err != nil {
			return nil, err
		}
		return device.NewEOS(tr, target.Host), nil
	})
}
