package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultRetention       = 7 * 24 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// MemoryStore keeps runs in process. Finished runs older than the retention
// are dropped by StartCleanup.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	retention time.Duration
}

func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		runs:      make(map[string]*Run),
		retention: retention,
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, id string, startedAt time.Time, deviceCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; exists {
		return fmt.Errorf("run %s already exists", id)
	}
	s.runs[id] = &Run{
		ID:          id,
		StartedAt:   startedAt,
		DeviceCount: deviceCount,
	}
	return nil
}

func (s *MemoryStore) RecordDevice(_ context.Context, runID string, result DeviceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return ErrRunNotFound
	}
	run.Devices = append(run.Devices, result)
	switch result.Status {
	case StatusSucceeded:
		run.Succeeded++
	case StatusFailed:
		run.Failed++
	}
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, runID string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return ErrRunNotFound
	}
	run.FinishedAt = &finishedAt
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, ErrRunNotFound
	}
	return copyRun(run, true), nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	result := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		result = append(result, *copyRun(run, false))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyRun(run *Run, withDevices bool) *Run {
	c := *run
	c.Devices = nil
	if withDevices {
		c.Devices = append([]DeviceResult(nil), run.Devices...)
	}
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		c.FinishedAt = &finished
	}
	return &c
}

// StartCleanup prunes expired runs every interval until ctx is done.
func (s *MemoryStore) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(time.Now())
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, run := range s.runs {
		if run.FinishedAt != nil && now.Sub(*run.FinishedAt) > s.retention {
			delete(s.runs, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("Cleaned up provisioning runs", "removed", removed)
	}
}
