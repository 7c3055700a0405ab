package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
)

const (
	csrBegin = "-----BEGIN CERTIFICATE REQUEST-----"
	csrEnd   = "-----END CERTIFICATE REQUEST-----"
)

// EOS issues Arista EOS CLI commands over a Transport.
type EOS struct {
	transport Transport
	address   string
}

func NewEOS(transport Transport, managementAddress string) *EOS {
	return &EOS{
		transport: transport,
		address:   managementAddress,
	}
}

func (d *EOS) Close() error {
	return d.transport.Close()
}

type showVersion struct {
	SerialNumber     string `json:"serialNumber"`
	SystemMacAddress string `json:"systemMacAddress"`
}

type showHostname struct {
	Hostname string `json:"hostname"`
	FQDN     string `json:"fqdn"`
}

// Identity reads serial number, system MAC and hostname from the device.
func (d *EOS) Identity(ctx context.Context) (Identity, error) {
	var version showVersion
	if err := d.runJSON(ctx, "show version | json", &version); err != nil {
		return Identity{}, err
	}

	var hostname showHostname
	if err := d.runJSON(ctx, "show hostname | json", &hostname); err != nil {
		return Identity{}, err
	}

	id := Identity{
		SerialNumber:      version.SerialNumber,
		MACAddress:        version.SystemMacAddress,
		Hostname:          hostname.Hostname,
		ManagementAddress: d.address,
	}
	if id.SerialNumber == "" || id.MACAddress == "" || id.Hostname == "" {
		return Identity{}, fmt.Errorf("%w: incomplete device facts (serial %q, mac %q, hostname %q)",
			ErrCommand, id.SerialNumber, id.MACAddress, id.Hostname)
	}
	return id, nil
}

func (d *EOS) RunningConfig(ctx context.Context) (string, error) {
	return d.transport.Run(ctx, "show running-config")
}

// GenerateKey creates, or replaces, an RSA key stored on the device.
func (d *EOS) GenerateKey(ctx context.Context, name string, bits int) error {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	_, err := d.transport.Run(ctx, fmt.Sprintf("security pki key generate rsa %d %s", bits, name))
	if err != nil {
		return err
	}
	slog.Info("Generated device key", "address", d.address, "key", name, "bits", bits)
	return nil
}

// GenerateCSR returns a PEM encoded CSR signed by the named device key. The
// text ends with the newline the device prints after the PEM block.
func (d *EOS) GenerateCSR(ctx context.Context, keyName, commonName string, subject CSRSubject, sanDNS string) (string, error) {
	cmd := fmt.Sprintf("security pki certificate generate signing-request key %s parameters"+
		" common-name %s country %s state %s locality %s organization %s organization-unit %s"+
		" subject-alternative-name dns %s",
		quoteArg(keyName),
		quoteArg(commonName),
		quoteArg(subject.Country),
		quoteArg(subject.State),
		quoteArg(subject.Locality),
		quoteArg(subject.Organization),
		quoteArg(subject.OrganizationalUnit),
		quoteArg(sanDNS),
	)

	out, err := d.transport.Run(ctx, cmd)
	if err != nil {
		return "", err
	}

	csr, ok := extractCSR(out)
	if !ok {
		return "", &CommandError{Command: "generate signing-request", Output: "no certificate request in output"}
	}
	return csr, nil
}

// Upload copies content to dir/name on the device.
func (d *EOS) Upload(ctx context.Context, content io.Reader, size int64, dir, name string) error {
	return d.transport.Upload(ctx, content, size, path.Join(dir, name))
}

// Configure applies cmds in order within one CLI session.
func (d *EOS) Configure(ctx context.Context, cmds []string) error {
	_, err := d.transport.RunBatch(ctx, cmds)
	return err
}

type sslProfileStatus struct {
	ProfileStatus map[string]struct {
		ProfileName string   `json:"profileName"`
		State       string   `json:"state"`
		Error       []string `json:"error"`
		Errors      []string `json:"errors"`
	} `json:"profileStatus"`
}

// ProfileStatus reads the state of a TLS profile. A profile the device does
// not know yields an empty state.
func (d *EOS) ProfileStatus(ctx context.Context, name string) (ProfileStatus, error) {
	var resp sslProfileStatus
	if err := d.runJSON(ctx, fmt.Sprintf("show management security ssl profile %s | json", name), &resp); err != nil {
		return ProfileStatus{}, err
	}

	status := ProfileStatus{Name: name}
	p, ok := resp.ProfileStatus[name]
	if !ok {
		return status, nil
	}
	status.State = p.State
	status.Errors = append(status.Errors, p.Error...)
	status.Errors = append(status.Errors, p.Errors...)
	return status, nil
}

func (d *EOS) runJSON(ctx context.Context, cmd string, out any) error {
	raw, err := d.transport.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &CommandError{Command: cmd, Output: fmt.Sprintf("unparseable JSON output: %v", err)}
	}
	return nil
}

// InstallCommands imports the staged files into the certificate store and
// binds them, with the key, to the TLS profile.
func InstallCommands(dir, caName, certName, keyName, profile string) []string {
	return []string{
		fmt.Sprintf("copy file:%s certificate:%s", path.Join(dir, caName), caName),
		fmt.Sprintf("copy file:%s certificate:%s", path.Join(dir, certName), certName),
		"configure",
		"management security",
		"ssl profile " + profile,
		fmt.Sprintf("certificate %s key %s", certName, keyName),
		"trust certificate " + caName,
		"end",
	}
}

func extractCSR(out string) (string, bool) {
	start := strings.Index(out, csrBegin)
	if start < 0 {
		return "", false
	}
	end := strings.Index(out[start:], csrEnd)
	if end < 0 {
		return "", false
	}
	return out[start:start+end+len(csrEnd)] + "\n", true
}

// quoteArg wraps s in double quotes when it holds whitespace. Callers reject
// values containing quotes or line breaks beforehand.
func quoteArg(s string) string {
	if strings.ContainsAny(s, " \t") {
		return `"` + s + `"`
	}
	return s
}
