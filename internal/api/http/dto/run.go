package dto

import (
	"time"

	"github.com/EternisAI/radsec-provisioner/internal/ledger"
)

type TargetRequest struct {
	Host     string `json:"host" binding:"required"`
	Port     int    `json:"port" binding:"omitempty,min=1,max=65535"`
	Username string `json:"username"`
}

type CreateRunRequest struct {
	Devices []TargetRequest `json:"devices" binding:"required,min=1,dive"`
}

type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

type DeviceResultResponse struct {
	Host            string     `json:"host"`
	Hostname        string     `json:"hostname,omitempty"`
	SerialNumber    string     `json:"serial_number,omitempty"`
	Stage           string     `json:"stage"`
	Status          string     `json:"status"`
	Error           string     `json:"error,omitempty"`
	CertFingerprint string     `json:"cert_fingerprint,omitempty"`
	CertNotAfter    *time.Time `json:"cert_not_after,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      time.Time  `json:"finished_at"`
}

type RunResponse struct {
	ID          string                 `json:"id"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	DeviceCount int                    `json:"device_count"`
	Succeeded   int                    `json:"succeeded"`
	Failed      int                    `json:"failed"`
	Devices     []DeviceResultResponse `json:"devices,omitempty"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

func NewRunResponse(run *ledger.Run) RunResponse {
	resp := RunResponse{
		ID:          run.ID,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		DeviceCount: run.DeviceCount,
		Succeeded:   run.Succeeded,
		Failed:      run.Failed,
	}
	for _, d := range run.Devices {
		resp.Devices = append(resp.Devices, DeviceResultResponse{
			Host:            d.Host,
			Hostname:        d.Hostname,
			SerialNumber:    d.SerialNumber,
			Stage:           d.Stage,
			Status:          d.Status,
			Error:           d.Error,
			CertFingerprint: d.CertFingerprint,
			CertNotAfter:    d.CertNotAfter,
			StartedAt:       d.StartedAt,
			FinishedAt:      d.FinishedAt,
		})
	}
	return resp
}
