package systemtest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internalhttp "github.com/EternisAI/radsec-provisioner/internal/api/http"
	"github.com/EternisAI/radsec-provisioner/internal/db"
	"github.com/EternisAI/radsec-provisioner/internal/identity"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"github.com/EternisAI/radsec-provisioner/internal/retry"
	"github.com/EternisAI/radsec-provisioner/internal/staging"
	"github.com/EternisAI/radsec-provisioner/systemtest/postgres"
	"github.com/EternisAI/radsec-provisioner/systemtest/tests"
	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const jwtSecret = "systemtest-secret"

func TestSystemIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping system test in short mode")
	}

	ctx := context.Background()
	dbConfig := postgres.StartLedgerDB(ctx, t, "radsec")
	require.NoError(t, db.RunMigrations(ctx, dbConfig))
	pool, err := db.InitDB(ctx, dbConfig)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	identityServer := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(identityServer.Close)

	// Every device is unreachable, so runs finish quickly and deterministically.
	dialer := provisioning.DialerFunc(func(ctx context.Context, target provisioning.Target) (provisioning.Device, error) {
		return nil, errors.New("connection refused")
	})

	store := ledger.NewPostgresStore(pool)
	p := provisioning.New(
		identity.NewClient(identity.Config{
			BaseURL: identityServer.URL,
			Timeout: time.Second,
			Retry:   retry.Policy{MaxAttempts: 2, Delay: time.Millisecond},
		}),
		dialer,
		staging.New(afero.NewMemMapFs(), staging.DefaultDir),
		store,
		provisioning.Config{
			Credentials: provisioning.Credentials{KeyID: "k1", KeyValue: "v1", OrgID: "o1"},
			CSR: provisioning.CSRInfo{
				Country:            "US",
				State:              "CA",
				Locality:           "Santa Clara",
				Organization:       "Example",
				OrganizationalUnit: "NetOps",
			},
		},
	)
	runner := provisioning.NewBackground(ctx, p)

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	internalhttp.SetupRoute(engine, &internalhttp.Services{
		Runner:    runner,
		Store:     store,
		JWTSecret: jwtSecret,
		Version:   "systemtest",
	})

	t.Run("HealthCheck", func(t *testing.T) { tests.TestHealthCheck(t, engine) })
	t.Run("Auth", func(t *testing.T) { tests.TestAuth(t, engine, jwtSecret) })
	t.Run("Runs", func(t *testing.T) { tests.TestRuns(t, engine, jwtSecret, runner.Wait) })
}
