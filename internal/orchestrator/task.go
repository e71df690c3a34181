package orchestrator

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/shelfdapp/shelfd/internal/assembly"
	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/transport"
)

// taskDelegate receives lifecycle notifications from a task. The orchestrator
// implements it; the indirection keeps tasks free of registry and event
// knowledge.
type taskDelegate interface {
	taskProgress(correlationID int64, pct float64)
	taskCompleted(correlationID int64, location string)
	taskFailed(correlationID int64, err error)
}

// task wraps one network transfer and its post-transfer assembly. It owns the
// progress bookkeeping for its correlation id and reports rounded progress to
// the delegate only when the rounded value changes.
type task struct {
	log           *slog.Logger
	unit          *data.Unit
	correlationID int64
	resumable     bool
	assembler     assembly.Assembler
	delegate      taskDelegate

	mu       sync.Mutex
	lastPct  float64
	finished bool
	done     chan struct{}
}

func newTask(log *slog.Logger, u *data.Unit, correlationID int64, resumable bool, asm assembly.Assembler, d taskDelegate) *task {
	if log == nil {
		log = slog.Default()
	}
	return &task{
		log:           log,
		unit:          u.Clone(),
		correlationID: correlationID,
		resumable:     resumable,
		assembler:     asm,
		delegate:      d,
		done:          make(chan struct{}),
	}
}

// handleProgress converts a byte count into a rounded percentage and forwards
// it when it differs from the last reported value. A transfer with no known
// total cannot produce a percentage and is logged instead.
func (t *task) handleProgress(written, expected int64) {
	if expected <= 0 || written <= 0 {
		t.log.Error("progress for transfer with unknown size",
			"asset_id", t.unit.AssetID, "written", written, "expected", expected)
		return
	}

	pct := math.Floor(float64(written-1) / float64(expected) * 100)

	t.mu.Lock()
	if t.finished || pct == t.lastPct {
		t.mu.Unlock()
		return
	}
	t.lastPct = pct
	t.mu.Unlock()

	t.delegate.taskProgress(t.correlationID, pct)
}

func (t *task) handleResumed(offset, expected int64) {
	t.log.Debug("transfer resumed",
		"asset_id", t.unit.AssetID,
		"offset", humanize.Bytes(uint64(offset)),
		"expected", expected)
}

// handleFinished runs assembly on success and reports the terminal outcome.
// Exactly one terminal delegate call is made per task.
func (t *task) handleFinished(location string, err error) {
	if !t.finish() {
		return
	}
	if err != nil {
		t.delegate.taskFailed(t.correlationID, err)
		return
	}

	if t.assembler == nil {
		t.delegate.taskCompleted(t.correlationID, location)
		return
	}
	dir, aerr := t.assembler.Assemble(context.Background(), t.unit, location)
	if aerr != nil {
		t.delegate.taskFailed(t.correlationID, aerr)
		return
	}
	t.delegate.taskCompleted(t.correlationID, dir)
}

// cancel tears the network task down. Resumable transfers first ask for a
// resume token; when one is granted the unit parks in Paused with the token,
// otherwise cancellation is unconditional.
func (t *task) cancel(tr transport.Transport) (token []byte, status data.Status) {
	defer t.finish()
	if t.resumable {
		if tok, ok := tr.Cancel(t.correlationID, true); ok {
			return tok, data.StatusPaused
		}
		return nil, data.StatusCancelled
	}
	tr.Cancel(t.correlationID, false)
	return nil, data.StatusCancelled
}

// finish marks the task terminal and releases its worker slot. It reports
// whether this call was the one that finished the task.
func (t *task) finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return false
	}
	t.finished = true
	close(t.done)
	return true
}
