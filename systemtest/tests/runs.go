package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/EternisAI/radsec-provisioner/internal/api/http/dto"
	"github.com/EternisAI/radsec-provisioner/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRuns starts a batch against unreachable devices and checks that the
// ledger reports every device as failed at the connect stage.
func TestRuns(t *testing.T, router *gin.Engine, jwtSecret string, wait func()) {
	operator := mustToken(t, jwtSecret, auth.RoleOperator)
	viewer := mustToken(t, jwtSecret, auth.RoleViewer)

	body := dto.CreateRunRequest{Devices: []dto.TargetRequest{
		{Host: "192.0.2.1"},
		{Host: "192.0.2.2", Port: 2222},
	}}
	rr := doJSONWithAuth(router, "POST", "/api/v1/runs", body, operator)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var created dto.CreateRunResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotEmpty(t, created.RunID)

	wait()

	t.Run("get run", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/runs/"+created.RunID, nil, viewer)
		require.Equal(t, http.StatusOK, rr.Code)

		var run dto.RunResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
		assert.Equal(t, created.RunID, run.ID)
		assert.Equal(t, 2, run.DeviceCount)
		assert.Equal(t, 0, run.Succeeded)
		assert.Equal(t, 2, run.Failed)
		assert.NotNil(t, run.FinishedAt)

		require.Len(t, run.Devices, 2)
		for _, d := range run.Devices {
			assert.Equal(t, "connect", d.Stage)
			assert.Equal(t, "failed", d.Status)
			assert.Contains(t, d.Error, "connection refused")
		}
	})

	t.Run("list runs", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/runs?limit=10", nil, viewer)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListRunsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Runs)
		assert.Equal(t, created.RunID, resp.Runs[0].ID)
	})

	t.Run("unknown run", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/runs/00000000-0000-0000-0000-000000000000", nil, viewer)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("invalid run id", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/api/v1/runs/not-a-uuid", nil, viewer)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
