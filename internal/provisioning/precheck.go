package provisioning

import (
	"fmt"
	"strings"

	"github.com/EternisAI/radsec-provisioner/internal/device"
)

// Credentials identify the API key used against the identity service.
type Credentials struct {
	KeyID    string `mapstructure:"key_id"`
	KeyValue string `mapstructure:"key_value"`
	OrgID    string `mapstructure:"org_id"`
}

// CSRInfo holds the subject fields every device CSR carries.
type CSRInfo struct {
	Country            string `mapstructure:"country"`
	State              string `mapstructure:"state"`
	Locality           string `mapstructure:"locality"`
	Organization       string `mapstructure:"organization"`
	OrganizationalUnit string `mapstructure:"organizational_unit"`
}

func (c CSRInfo) Subject() device.CSRSubject {
	return device.CSRSubject{
		Country:            c.Country,
		State:              c.State,
		Locality:           c.Locality,
		Organization:       c.Organization,
		OrganizationalUnit: c.OrganizationalUnit,
	}
}

// CSR subject values end up inside a quoted device CLI argument.
const csrForbiddenChars = "\"\r\n"

// ValidateInputs reports every missing credential or CSR field at once, and
// rejects CSR values the device CLI cannot carry.
func ValidateInputs(creds Credentials, info CSRInfo) error {
	fields := []struct {
		name  string
		value string
		csr   bool
	}{
		{"identity.key_id", creds.KeyID, false},
		{"identity.key_value", creds.KeyValue, false},
		{"identity.org_id", creds.OrgID, false},
		{"csr.country", info.Country, true},
		{"csr.state", info.State, true},
		{"csr.locality", info.Locality, true},
		{"csr.organization", info.Organization, true},
		{"csr.organizational_unit", info.OrganizationalUnit, true},
	}

	var missing, invalid []string
	for _, f := range fields {
		switch {
		case strings.TrimSpace(f.value) == "":
			missing = append(missing, f.name)
		case f.csr && strings.ContainsAny(f.value, csrForbiddenChars):
			invalid = append(invalid, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: quotes or line breaks in %s", ErrConfiguration, strings.Join(invalid, ", "))
	}
	return nil
}

// CheckDeviceConfig requires the running configuration to contain required
// as a whole line.
func CheckDeviceConfig(runningConfig, required string) error {
	required = strings.TrimSpace(required)
	if required == "" {
		return nil
	}
	for _, line := range strings.Split(runningConfig, "\n") {
		if strings.TrimSpace(line) == required {
			return nil
		}
	}
	return fmt.Errorf("%w: running configuration lacks %q", ErrConfiguration, required)
}
