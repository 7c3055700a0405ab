package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/EternisAI/radsec-provisioner/internal/api/http/dto"
	"github.com/EternisAI/radsec-provisioner/internal/ledger"
	"github.com/EternisAI/radsec-provisioner/internal/provisioning"
	"github.com/gin-gonic/gin"
)

const maxListLimit = 500

// RunStarter starts a provisioning batch without waiting for it.
type RunStarter interface {
	Start(targets []provisioning.Target) (string, error)
}

type RunsHandler struct {
	runner RunStarter
	store  ledger.Store
}

func NewRunsHandler(runner RunStarter, store ledger.Store) *RunsHandler {
	return &RunsHandler{runner: runner, store: store}
}

func (h *RunsHandler) Create(ctx *gin.Context) {
	var req dto.CreateRunRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	targets := make([]provisioning.Target, 0, len(req.Devices))
	for _, d := range req.Devices {
		targets = append(targets, provisioning.Target{Host: d.Host, Port: d.Port, Username: d.Username})
	}

	runID, err := h.runner.Start(targets)
	if err != nil {
		switch {
		case errors.Is(err, provisioning.ErrBusy):
			ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, provisioning.ErrConfiguration):
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			slog.Error("Failed to start provisioning run", "error", err)
			ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start provisioning run"})
		}
		return
	}

	slog.Info("Provisioning run started via API",
		"run_id", runID,
		"devices", len(targets),
		"username", ctx.GetString("username"))
	ctx.JSON(http.StatusAccepted, dto.CreateRunResponse{RunID: runID})
}

func (h *RunsHandler) List(ctx *gin.Context) {
	limit := ledger.DefaultListLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and " + strconv.Itoa(maxListLimit)})
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(ctx.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list provisioning runs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunResponse, 0, len(runs))}
	for i := range runs {
		resp.Runs = append(resp.Runs, dto.NewRunResponse(&runs[i]))
	}
	ctx.JSON(http.StatusOK, resp)
}

func (h *RunsHandler) Get(ctx *gin.Context) {
	run, err := h.store.GetRun(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrRunNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		slog.Error("Failed to get provisioning run", "run_id", ctx.Param("id"), "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get run"})
		return
	}

	ctx.JSON(http.StatusOK, dto.NewRunResponse(run))
}
