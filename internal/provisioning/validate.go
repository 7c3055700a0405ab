package provisioning

import (
	"github.com/EternisAI/radsec-provisioner/internal/device"
)

// ValidateProfile passes only a profile in the valid state with no errors.
func ValidateProfile(status device.ProfileStatus) error {
	if status.Valid() {
		return nil
	}
	return &ProfileError{
		Profile: status.Name,
		State:   status.State,
		Errors:  status.Errors,
	}
}
