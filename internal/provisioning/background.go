package provisioning

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var ErrBusy = errors.New("a provisioning run is already in progress")

// Background starts batches without waiting for them. Only one batch runs at
// a time because batches share the staging directory.
type Background struct {
	provisioner *Provisioner
	ctx         context.Context

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewBackground(ctx context.Context, p *Provisioner) *Background {
	return &Background{provisioner: p, ctx: ctx}
}

// Start records a new run and provisions targets in the background. The run
// is visible in the ledger when Start returns.
func (b *Background) Start(targets []Target) (string, error) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return "", ErrBusy
	}
	b.running = true
	b.mu.Unlock()

	runID := uuid.NewString()
	if err := b.provisioner.begin(b.ctx, runID, targets); err != nil {
		b.release()
		return "", err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.release()

		report := b.provisioner.execute(b.ctx, runID, targets)
		if failed := report.Failed(); failed > 0 {
			slog.Warn("Background provisioning run finished with failures", "run_id", runID, "failed", failed)
		}
	}()

	return runID, nil
}

func (b *Background) release() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// Wait blocks until the running batch, if any, has finished.
func (b *Background) Wait() {
	b.wg.Wait()
}
