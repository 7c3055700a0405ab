package ledger

import (
	"context"
	"errors"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

var ErrRunNotFound = errors.New("provisioning run not found")

// Run is one provisioning batch.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  *time.Time
	DeviceCount int
	Succeeded   int
	Failed      int
	Devices     []DeviceResult
}

// DeviceResult is the recorded outcome for one device. It never holds key or
// certificate material, only the certificate fingerprint and expiry.
type DeviceResult struct {
	Host            string
	Hostname        string
	SerialNumber    string
	Stage           string
	Status          string
	Error           string
	CertFingerprint string
	CertNotAfter    *time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Store keeps the history of provisioning runs.
type Store interface {
	CreateRun(ctx context.Context, id string, startedAt time.Time, deviceCount int) error
	RecordDevice(ctx context.Context, runID string, result DeviceResult) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time) error
	GetRun(ctx context.Context, id string) (*Run, error)
	// ListRuns returns the most recent runs first, without device results.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
