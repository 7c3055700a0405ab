package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EternisAI/radsec-provisioner/internal/api/http/dto"
	"github.com/EternisAI/radsec-provisioner/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T, router *gin.Engine) {
	rr := doJSON(router, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp dto.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestAuth(t *testing.T, router *gin.Engine, jwtSecret string) {
	t.Run("missing token", func(t *testing.T) {
		rr := doJSON(router, "GET", "/api/v1/runs", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		token := mustToken(t, "not-"+jwtSecret, auth.RoleAdmin)
		rr := doJSONWithAuth(router, "GET", "/api/v1/runs", nil, token)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("viewer cannot start runs", func(t *testing.T) {
		token := mustToken(t, jwtSecret, auth.RoleViewer)
		body := dto.CreateRunRequest{Devices: []dto.TargetRequest{{Host: "10.0.0.1"}}}
		rr := doJSONWithAuth(router, "POST", "/api/v1/runs", body, token)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func mustToken(t *testing.T, secret, role string) string {
	t.Helper()
	token, err := auth.GenerateToken(auth.Config{Secret: secret}, "u-"+role, role+"-user", role)
	require.NoError(t, err)
	return token
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return doJSONWithAuth(router, method, path, body, "")
}

func doJSONWithAuth(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
