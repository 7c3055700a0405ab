package provisioning

import (
	"context"
	"crypto/x509/pkix"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/cert"
	"github.com/EternisAI/radsec-provisioner/internal/device"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/staging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockIdentity is a mock implementation of IdentityService
type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) Authenticate(ctx context.Context, keyID, keyValue string) (identity.Session, error) {
	args := m.Called(keyID, keyValue)
	session, _ := args.Get(0).(identity.Session)
	return session, args.Error(1)
}

func (m *MockIdentity) EnsureRegistered(ctx context.Context, session identity.Session, orgID string, reg identity.DeviceRegistration) error {
	args := m.Called(session, orgID, reg)
	return args.Error(0)
}

func (m *MockIdentity) FetchCA(ctx context.Context, session identity.Session) (string, error) {
	args := m.Called(session)
	return args.String(0), args.Error(1)
}

func (m *MockIdentity) Enroll(ctx context.Context, session identity.Session, orgID, csr string) (string, error) {
	args := m.Called(session, orgID, csr)
	return args.String(0), args.Error(1)
}

// MockDevice is a mock implementation of Device
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) Identity(ctx context.Context) (device.Identity, error) {
	args := m.Called()
	return args.Get(0).(device.Identity), args.Error(1)
}

func (m *MockDevice) RunningConfig(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockDevice) GenerateKey(ctx context.Context, name string, bits int) error {
	args := m.Called(name, bits)
	return args.Error(0)
}

func (m *MockDevice) GenerateCSR(ctx context.Context, keyName, commonName string, subject device.CSRSubject, sanDNS string) (string, error) {
	args := m.Called(keyName, commonName, subject, sanDNS)
	return args.String(0), args.Error(1)
}

func (m *MockDevice) Upload(ctx context.Context, content io.Reader, size int64, dir, name string) error {
	b, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	args := m.Called(string(b), size, dir, name)
	return args.Error(0)
}

func (m *MockDevice) Configure(ctx context.Context, cmds []string) error {
	args := m.Called(cmds)
	return args.Error(0)
}

func (m *MockDevice) ProfileStatus(ctx context.Context, name string) (device.ProfileStatus, error) {
	args := m.Called(name)
	return args.Get(0).(device.ProfileStatus), args.Error(1)
}

func (m *MockDevice) Close() error {
	args := m.Called()
	return args.Error(0)
}

const (
	stagingDir    = "/staging"
	runningConfig = "hostname sw01\naaa authorization exec default local\n!\n"
)

var testSession = identity.BearerSession{Token: "session-token"}

// pki is a CA plus one CSR and its signed certificate.
type pki struct {
	caPEM   string
	csrPEM  string
	certPEM string
}

var (
	testPKIOnce sync.Once
	testPKI     pki
	testPKIErr  error
)

func loadPKI(t *testing.T) pki {
	t.Helper()
	testPKIOnce.Do(func() {
		ca, err := cert.NewAuthority("RadSec Test CA")
		if err != nil {
			testPKIErr = err
			return
		}
		csr, err := cert.NewCSR("aa:bb:cc", pkix.Name{Country: []string{"US"}}, "sw01")
		if err != nil {
			testPKIErr = err
			return
		}
		leaf, err := ca.SignCSR(csr, 365*24*time.Hour)
		if err != nil {
			testPKIErr = err
			return
		}
		testPKI = pki{caPEM: ca.CertificatePEM(), csrPEM: csr, certPEM: leaf}
	})
	require.NoError(t, testPKIErr)
	return testPKI
}

type fixture struct {
	t        *testing.T
	pki      pki
	fs       afero.Fs
	identity *MockIdentity
	store    *ledger.MemoryStore

	mu      sync.Mutex
	devices map[string]*MockDevice
	dialErr map[string]error
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:        t,
		pki:      loadPKI(t),
		fs:       afero.NewMemMapFs(),
		identity: new(MockIdentity),
		store:    ledger.NewMemoryStore(time.Hour),
		devices:  make(map[string]*MockDevice),
		dialErr:  make(map[string]error),
	}
}

// expectIdentity registers the happy path service answers. Overrides must be
// registered before calling it.
func (f *fixture) expectIdentity() {
	f.identity.On("Authenticate", "k1", "v1").Return(testSession, nil)
	f.identity.On("FetchCA", testSession).Return(f.pki.caPEM, nil)
	f.identity.On("EnsureRegistered", testSession, "o1", mock.Anything).Return(nil)
	f.identity.On("Enroll", testSession, "o1", f.pki.csrPEM).Return(f.pki.certPEM, nil)
}

// addDevice registers a device answering every stage successfully. Calls
// registered by overrides take precedence.
func (f *fixture) addDevice(host, hostname string, overrides ...func(d *MockDevice)) *MockDevice {
	d := new(MockDevice)
	for _, o := range overrides {
		o(d)
	}

	id := device.Identity{
		SerialNumber:      "SN-" + hostname,
		MACAddress:        "aa:bb:cc",
		Hostname:          hostname,
		ManagementAddress: host,
	}
	d.On("RunningConfig").Return(runningConfig, nil)
	d.On("Identity").Return(id, nil)
	d.On("GenerateKey", "radsec.key", 2048).Return(nil)
	d.On("GenerateCSR", "radsec.key", "aa:bb:cc", testCSRInfo.Subject(), hostname).Return(f.pki.csrPEM, nil)
	d.On("Upload", f.pki.caPEM, int64(len(f.pki.caPEM)), "/mnt/flash", "radsec-ca.crt").Return(nil)
	d.On("Upload", f.pki.certPEM, int64(len(f.pki.certPEM)), "/mnt/flash", "radsec.crt").Return(nil)
	d.On("Configure", device.InstallCommands("/mnt/flash", "radsec-ca.crt", "radsec.crt", "radsec.key", "RADSEC")).Return(nil)
	d.On("ProfileStatus", "RADSEC").Return(device.ProfileStatus{Name: "RADSEC", State: "valid"}, nil)
	d.On("Close").Return(nil)

	f.mu.Lock()
	f.devices[host] = d
	f.mu.Unlock()
	return d
}

func (f *fixture) dial(ctx context.Context, target Target) (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dialErr[target.Host]; err != nil {
		return nil, err
	}
	d, ok := f.devices[target.Host]
	if !ok {
		return nil, errors.New("unknown host " + target.Host)
	}
	return d, nil
}

func (f *fixture) provisioner() *Provisioner {
	return New(f.identity, DialerFunc(f.dial), staging.New(f.fs, stagingDir), f.store, Config{
		Credentials: testCredentials,
		CSR:         testCSRInfo,
		Device:      device.Config{Parallelism: 2},
	})
}

func (f *fixture) assertStagingEmpty() {
	entries, err := afero.ReadDir(f.fs, stagingDir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Empty(f.t, names, "staging directory must be empty after the run")
}

func TestRunProvisionsDevice(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01")

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, StageDone, res.Stage)
	assert.Equal(t, "sw01", res.Hostname)
	assert.Equal(t, "SN-sw01", res.SerialNumber)
	assert.NotEmpty(t, res.CertFingerprint)
	assert.False(t, res.CertNotAfter.IsZero())
	assert.Equal(t, 0, report.Failed())
	assert.NoError(t, report.Err())

	f.identity.AssertCalled(t, "EnsureRegistered", testSession, "o1", identity.DeviceRegistration{
		SerialNumber: "SN-sw01",
		MAC:          "aa:bb:cc",
		IPAddress:    "10.0.0.1",
		Name:         "sw01",
	})
	f.identity.AssertExpectations(t)
	d.AssertExpectations(t)
	f.assertStagingEmpty()

	run, err := f.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Succeeded)
	require.NotNil(t, run.FinishedAt)
	require.Len(t, run.Devices, 1)
	assert.Equal(t, res.CertFingerprint, run.Devices[0].CertFingerprint)
	assert.Equal(t, "done", run.Devices[0].Stage)
	assert.Empty(t, run.Devices[0].Error)
}

func TestRunSharesSessionAndCA(t *testing.T) {
	f := newFixture(t)
	f.identity.On("Authenticate", "k1", "v1").Return(testSession, nil).Once()
	f.identity.On("FetchCA", testSession).Return(f.pki.caPEM, nil).Once()
	f.expectIdentity()

	hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	var targets []Target
	for i, h := range hosts {
		f.addDevice(h, "sw0"+string(rune('1'+i)))
		targets = append(targets, Target{Host: h})
	}

	report, err := f.provisioner().Run(context.Background(), targets)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed())

	f.identity.AssertNumberOfCalls(t, "Authenticate", 1)
	f.identity.AssertNumberOfCalls(t, "FetchCA", 1)
	f.identity.AssertNumberOfCalls(t, "Enroll", len(hosts))
	for i, res := range report.Results {
		assert.Equal(t, hosts[i], res.Target.Host, "results keep target order")
	}
	f.assertStagingEmpty()
}

func TestRunAuthenticationFailureFailsEveryDevice(t *testing.T) {
	f := newFixture(t)
	authErr := &identity.APIError{Err: identity.ErrAuthentication, Op: "key-login", StatusCode: 401}
	f.identity.On("Authenticate", "k1", "v1").Return(nil, authErr).Once()
	f.addDevice("10.0.0.1", "sw01")
	f.addDevice("10.0.0.2", "sw02")

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}, {Host: "10.0.0.2"}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Failed())

	for _, res := range report.Results {
		assert.Equal(t, StageAuthenticate, res.Stage)
		assert.ErrorIs(t, res.Err, identity.ErrAuthentication)
	}
	f.identity.AssertNumberOfCalls(t, "Authenticate", 1)
	f.identity.AssertNotCalled(t, "FetchCA", mock.Anything)
	f.identity.AssertNotCalled(t, "EnsureRegistered", mock.Anything, mock.Anything, mock.Anything)
	assert.ErrorIs(t, report.Err(), identity.ErrAuthentication)
}

func TestRunCAFetchFailure(t *testing.T) {
	f := newFixture(t)
	fetchErr := &identity.APIError{Err: identity.ErrFetch, Op: "fetch CA", StatusCode: 500}
	f.identity.On("FetchCA", testSession).Return("", fetchErr)
	f.expectIdentity()
	f.addDevice("10.0.0.1", "sw01")

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageFetchCA, res.Stage)
	assert.ErrorIs(t, res.Err, identity.ErrFetch)
	f.assertStagingEmpty()
}

func TestRunIsolatesDeviceFailures(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	f.addDevice("10.0.0.1", "sw01")
	f.addDevice("10.0.0.2", "sw02")
	f.dialErr["10.0.0.1"] = errors.New("connection refused")

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}, {Host: "10.0.0.2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	assert.Equal(t, StatusFailed, report.Results[0].Status)
	assert.Equal(t, StageConnect, report.Results[0].Stage)
	assert.Equal(t, StatusSucceeded, report.Results[1].Status)

	run, err := f.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, run.Succeeded)
}

func TestRunRequiresDeviceConfigLine(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01", func(d *MockDevice) {
		d.On("RunningConfig").Return("hostname sw01\n", nil)
	})

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StagePrecheck, res.Stage)
	assert.ErrorIs(t, res.Err, ErrConfiguration)
	d.AssertNotCalled(t, "Identity")
	d.AssertNotCalled(t, "GenerateKey", mock.Anything, mock.Anything)
	d.AssertCalled(t, "Close")
	f.identity.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestRunRejectsInvalidInputs(t *testing.T) {
	f := newFixture(t)
	p := New(f.identity, DialerFunc(f.dial), staging.New(f.fs, stagingDir), f.store, Config{
		Credentials: Credentials{KeyID: "k1", OrgID: "o1"},
		CSR:         testCSRInfo,
	})

	_, err := p.Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StagePrecheck, stageErr.Stage)

	runs, err := f.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.provisioner().Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRunDeviceNotRegistered(t *testing.T) {
	f := newFixture(t)
	notRegistered := &identity.APIError{Err: identity.ErrDeviceNotRegistered, Op: "confirm device sw01"}
	f.identity.On("EnsureRegistered", testSession, "o1", mock.Anything).Return(notRegistered)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01")

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageRegister, res.Stage)
	assert.ErrorIs(t, res.Err, identity.ErrDeviceNotRegistered)
	d.AssertNotCalled(t, "GenerateKey", mock.Anything, mock.Anything)
}

func TestRunEnrollmentFailureRemovesStagedCA(t *testing.T) {
	f := newFixture(t)
	caPath := stagingDir + "/radsec-ca.crt"

	enrollErr := &identity.APIError{Err: identity.ErrEnrollment, Op: "sign CSR", StatusCode: 200, Message: "unknown error"}
	f.identity.On("Enroll", testSession, "o1", f.pki.csrPEM).
		Run(func(mock.Arguments) {
			exists, err := afero.Exists(f.fs, caPath)
			assert.NoError(t, err)
			assert.True(t, exists, "CA is staged while devices are in flight")
		}).
		Return("", enrollErr)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01")

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageEnroll, res.Stage)
	assert.ErrorIs(t, res.Err, identity.ErrEnrollment)
	assert.Contains(t, res.Err.Error(), "unknown error")
	d.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	exists, err := afero.Exists(f.fs, caPath)
	require.NoError(t, err)
	assert.False(t, exists)
}

// caStagedOnCertUpload asserts whether the staged CA is present while the
// device certificate is being copied.
func caStagedOnCertUpload(f *fixture, want bool) func(d *MockDevice) {
	return func(d *MockDevice) {
		d.On("Upload", f.pki.certPEM, int64(len(f.pki.certPEM)), "/mnt/flash", "radsec.crt").
			Run(func(mock.Arguments) {
				exists, err := afero.Exists(f.fs, stagingDir+"/radsec-ca.crt")
				assert.NoError(f.t, err)
				assert.Equal(f.t, want, exists)
			}).
			Return(nil)
	}
}

func TestRunRemovesCAAfterLastUpload(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01", caStagedOnCertUpload(f, false))

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed())
	d.AssertExpectations(t)
	f.assertStagingEmpty()
}

func TestRunKeepsCAUntilEveryDeviceUploaded(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	f.addDevice("10.0.0.1", "sw01", caStagedOnCertUpload(f, true))
	f.addDevice("10.0.0.2", "sw02", caStagedOnCertUpload(f, false))

	p := New(f.identity, DialerFunc(f.dial), staging.New(f.fs, stagingDir), f.store, Config{
		Credentials: testCredentials,
		CSR:         testCSRInfo,
		Device:      device.Config{Parallelism: 1},
	})
	report, err := p.Run(context.Background(), []Target{{Host: "10.0.0.1"}, {Host: "10.0.0.2"}})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed())
	f.assertStagingEmpty()
}

func TestRunReleasesCAForFailedDevices(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	f.dialErr["10.0.0.2"] = errors.New("connection refused")
	f.addDevice("10.0.0.1", "sw01", caStagedOnCertUpload(f, false))

	p := New(f.identity, DialerFunc(f.dial), staging.New(f.fs, stagingDir), f.store, Config{
		Credentials: testCredentials,
		CSR:         testCSRInfo,
		Device:      device.Config{Parallelism: 1},
	})
	report, err := p.Run(context.Background(), []Target{{Host: "10.0.0.2"}, {Host: "10.0.0.1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, StageConnect, report.Results[0].Stage)
	assert.Equal(t, StatusSucceeded, report.Results[1].Status)
	f.assertStagingEmpty()
}

func TestCARefsRemovesOnLastRelease(t *testing.T) {
	removed := 0
	refs := newCARefs(2, func() { removed++ })

	first, second := refs.hold(), refs.hold()
	first()
	first()
	assert.Equal(t, 0, removed, "repeat release of one device must not count twice")

	second()
	assert.Equal(t, 1, removed)
}

func TestRunUploadFailureRemovesStagedCertificate(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01", func(d *MockDevice) {
		d.On("Upload", mock.Anything, mock.Anything, "/mnt/flash", "radsec.crt").
			Run(func(mock.Arguments) {
				exists, err := afero.Exists(f.fs, stagingDir+"/sw01-radsec.crt")
				assert.NoError(t, err)
				assert.True(t, exists)
			}).
			Return(errors.New("scp: No space left on device"))
	})

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageInstall, res.Stage)
	assert.ErrorIs(t, res.Err, ErrInstall)
	d.AssertNotCalled(t, "Configure", mock.Anything)
	d.AssertNotCalled(t, "ProfileStatus", mock.Anything)
	f.assertStagingEmpty()
}

func TestRunConfigurationRejected(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	f.addDevice("10.0.0.1", "sw01", func(d *MockDevice) {
		d.On("Configure", mock.Anything).Return(&device.CommandError{Command: "ssl profile RADSEC", Output: "Invalid input"})
	})

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageInstall, res.Stage)
	assert.ErrorIs(t, res.Err, ErrInstall)
	assert.ErrorIs(t, res.Err, device.ErrCommand)
}

func TestRunProfileInvalid(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	f.addDevice("10.0.0.1", "sw01", func(d *MockDevice) {
		d.On("ProfileStatus", "RADSEC").Return(device.ProfileStatus{Name: "RADSEC", State: "invalid"}, nil)
	})

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageValidate, res.Stage)
	assert.ErrorIs(t, res.Err, ErrProfileInvalid)
	assert.Contains(t, res.Err.Error(), "no error reported by device")

	run, err := f.store.GetRun(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "validate_profile", run.Devices[0].Stage)
	assert.Contains(t, run.Devices[0].Error, "no error reported by device")
}

func TestRunKeyGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.expectIdentity()
	d := f.addDevice("10.0.0.1", "sw01", func(d *MockDevice) {
		d.On("GenerateKey", "radsec.key", 2048).Return(&device.CommandError{Command: "security pki key generate", Output: "Invalid input"})
	})

	report, err := f.provisioner().Run(context.Background(), []Target{{Host: "10.0.0.1"}})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StageGenerateKey, res.Stage)
	assert.ErrorIs(t, res.Err, device.ErrCommand)
	d.AssertNotCalled(t, "GenerateCSR", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.identity.AssertNotCalled(t, "Enroll", mock.Anything, mock.Anything, mock.Anything)
}

func TestStageError(t *testing.T) {
	err := &StageError{Stage: StageEnroll, Err: identity.ErrEnrollment}
	assert.Equal(t, "enroll: certificate enrollment failed", err.Error())
	assert.ErrorIs(t, err, identity.ErrEnrollment)
}
