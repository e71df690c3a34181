// Package orchestrator is the download engine's front door. It admits
// batches against device storage, drives the per-unit state machine, runs
// transfers through a bounded worker pool and publishes lifecycle events.
package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/shelfdapp/shelfd/internal/assembly"
	"github.com/shelfdapp/shelfd/internal/catalog"
	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/diskspace"
	"github.com/shelfdapp/shelfd/internal/event"
	"github.com/shelfdapp/shelfd/internal/metrics"
	"github.com/shelfdapp/shelfd/internal/registry"
	"github.com/shelfdapp/shelfd/internal/transport"
)

// Setup receives catalog bookkeeping hooks after a book asset finishes
// downloading or is removed. Implementations run their own pipelines; the
// orchestrator only fires the hook.
type Setup interface {
	AssetDownloaded(ctx context.Context, u *data.Unit)
	AssetRemoved(ctx context.Context, u *data.Unit)
}

// DefaultMaxParallel bounds concurrent streams when the config does not say.
const DefaultMaxParallel = 3

// Config carries the orchestrator's tunables.
type Config struct {
	// CachesRoot is the directory downloaded assets are unpacked into, and
	// the filesystem admission control measures.
	CachesRoot  string
	MaxParallel int
}

// Orchestrator coordinates transfer units end to end.
type Orchestrator struct {
	log   *slog.Logger
	cfg   Config
	reg   *registry.Registry
	tr    transport.Transport
	bus   event.Reporter
	books catalog.BookStore
	setup Setup

	bookAssembler assembly.Assembler

	// Overridable for tests.
	freeSpace   func(path string) (int64, error)
	removeAsset func(path string) error

	sem chan struct{}

	mu    sync.Mutex
	tasks map[int64]*task
}

// New wires an orchestrator. books and setup may be nil; the engine then
// skips downloaded-state resolution and catalog hooks.
func New(log *slog.Logger, cfg Config, reg *registry.Registry, tr transport.Transport, bus event.Reporter, books catalog.BookStore, setup Setup, bookAssembler assembly.Assembler) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	return &Orchestrator{
		log:           log,
		cfg:           cfg,
		reg:           reg,
		tr:            tr,
		bus:           bus,
		books:         books,
		setup:         setup,
		bookAssembler: bookAssembler,
		freeSpace:     diskspace.Available,
		removeAsset:   func(path string) error { return os.RemoveAll(path) },
		sem:           make(chan struct{}, cfg.MaxParallel),
		tasks:         make(map[int64]*task),
	}
}

// Snapshot returns the full download history in registration order.
func (o *Orchestrator) Snapshot() data.Units {
	return o.reg.Snapshot()
}

// Start admits and starts the batch. Offline requests and requests that do
// not fit the device's free space abort the whole batch with a single error
// event; no unit of an aborted batch is started. Admitted units are started
// strictly in descriptor order.
func (o *Orchestrator) Start(ctx context.Context, req data.BatchRequest) {
	units := o.resolveAll(ctx, req.Assets)

	if !req.Reachable {
		metrics.AdmissionRejections.WithLabelValues("offline").Inc()
		o.publish(event.Event{Type: event.TypeNetworkOffline, Batch: &data.BatchResponse{
			Access: req.Access,
			Assets: req.Assets,
			Units:  units,
		}})
		return
	}

	for i, desc := range req.Assets {
		free, err := o.freeSpace(o.cfg.CachesRoot)
		if err != nil {
			o.log.Error("unable to measure available free space", "path", o.cfg.CachesRoot, "err", err)
			free = 0
		}
		required := o.reg.CommittedSize() + desc.Size
		if free <= required {
			o.log.Warn("batch aborted, insufficient free space",
				"asset_id", desc.AssetID,
				"available", humanize.Bytes(uint64(free)),
				"required", humanize.Bytes(uint64(required)))
			metrics.AdmissionRejections.WithLabelValues("space").Inc()
			o.publish(event.Event{Type: event.TypeInsufficientSpace, Batch: &data.BatchResponse{
				Access:             req.Access,
				Assets:             req.Assets,
				Units:              units,
				AvailableFreeSpace: free,
				RequiredFreeSpace:  required,
			}})
			return
		}

		u, changed := o.startUnit(ctx, units[i].Key())
		if u != nil {
			units[i] = u
		}
		if changed {
			o.publishUnitUpdate(req.Access, desc, u)
		}
	}
}

// Stop pauses every live unit of the batch. Completed units are not touched,
// but an update with a forced-off toggle is emitted for them so consumers do
// not flip their presentation state. One aggregate paused event closes the
// batch.
func (o *Orchestrator) Stop(ctx context.Context, req data.BatchRequest) {
	units := o.resolveAll(ctx, req.Assets)

	for i, desc := range req.Assets {
		u := units[i]
		switch u.Status {
		case data.StatusQueued, data.StatusInProgress:
			if err := o.tr.Suspend(u.CorrelationID); err != nil {
				o.log.Error("failed to suspend transfer", "asset_id", u.AssetID, "err", err)
			}
			updated, err := o.reg.Update(u.Key(), func(x *data.Unit) {
				x.Status = data.StatusPaused
			})
			if err != nil {
				continue
			}
			units[i] = updated
			o.publishUnitUpdate(req.Access, desc, updated)
		case data.StatusCompleted:
			forced := false
			o.publish(event.Event{Type: event.TypeUpdateStatus, Batch: &data.BatchResponse{
				Access:       req.Access,
				Assets:       []data.AssetDescriptor{desc},
				Units:        data.Units{u},
				ForcedToggle: &forced,
			}})
		}
	}

	o.publish(event.Event{Type: event.TypePaused, Batch: &data.BatchResponse{
		Access: req.Access,
		Assets: req.Assets,
		Units:  units,
	}})
	o.syncGauge()
}

// Resume continues every paused unit of the batch. Units paused mid-stream
// continue their network task; units parked with a resume token are recreated
// from the token first.
func (o *Orchestrator) Resume(ctx context.Context, req data.BatchRequest) {
	units := o.resolveAll(ctx, req.Assets)

	for i, desc := range req.Assets {
		u := units[i]
		if u.Status != data.StatusPaused {
			continue
		}

		if u.CorrelationID == data.NoCorrelation {
			updated, ok := o.recreateFromToken(u)
			if !ok {
				continue
			}
			units[i] = updated
			o.publishUnitUpdate(req.Access, desc, updated)
			continue
		}

		if err := o.tr.Resume(u.CorrelationID); err != nil {
			o.log.Error("failed to resume transfer", "asset_id", u.AssetID, "err", err)
			continue
		}
		updated, err := o.reg.Update(u.Key(), func(x *data.Unit) {
			x.Status = data.StatusInProgress
		})
		if err != nil {
			continue
		}
		units[i] = updated
		o.publishUnitUpdate(req.Access, desc, updated)
	}
	o.syncGauge()
}

// recreateFromToken rebuilds the network task for a unit that was cancelled
// with a resume token, and launches it immediately.
func (o *Orchestrator) recreateFromToken(u *data.Unit) (*data.Unit, bool) {
	corrID, err := o.tr.Create(u.Source, u.ResumeToken)
	if err != nil {
		o.log.Error("failed to recreate transfer from resume token", "asset_id", u.AssetID, "err", err)
		return nil, false
	}
	t := newTask(o.log, u, corrID, resumableKind(u.Kind), o.assemblerFor(u.Kind), o)
	o.mu.Lock()
	o.tasks[corrID] = t
	o.mu.Unlock()

	if err := o.tr.Launch(corrID); err != nil {
		o.log.Error("failed to launch recreated transfer", "asset_id", u.AssetID, "err", err)
		o.mu.Lock()
		delete(o.tasks, corrID)
		o.mu.Unlock()
		return nil, false
	}
	updated, err := o.reg.Update(u.Key(), func(x *data.Unit) {
		x.Status = data.StatusInProgress
		x.CorrelationID = corrID
		x.ResumeToken = nil
	})
	if err != nil {
		return nil, false
	}
	return updated, true
}

// Remove cancels any in-flight transfer, deletes the on-disk asset directory
// and resets the unit to NotStarted. Deletion failures are logged but never
// block the state reset, so a unit can always be re-downloaded.
func (o *Orchestrator) Remove(ctx context.Context, req data.BatchRequest) {
	units := o.resolveAll(ctx, req.Assets)

	for i, desc := range req.Assets {
		u := units[i]
		o.teardown(u)

		if err := o.removeAsset(filepath.Join(o.cfg.CachesRoot, u.AssetID)); err != nil {
			o.log.Error("failed to delete downloaded asset", "asset_id", u.AssetID, "err", err)
		}

		updated, err := o.reg.Update(u.Key(), func(x *data.Unit) {
			x.Status = data.StatusNotStarted
			x.Progress = 0
			x.CorrelationID = data.NoCorrelation
			x.ResumeToken = nil
		})
		if err != nil {
			continue
		}
		units[i] = updated

		if u.Kind == data.KindBook && o.setup != nil {
			o.setup.AssetRemoved(ctx, updated.Clone())
		}
		o.publishUnitUpdate(req.Access, desc, updated)
	}
	o.syncGauge()
}

// CancelAll cancels every live transfer. Resumable transfers park in Paused
// with their token; the rest end in Cancelled.
func (o *Orchestrator) CancelAll() {
	for _, u := range o.reg.Live() {
		o.cancelUnit(u)
	}
	o.syncGauge()
}

func (o *Orchestrator) cancelUnit(u *data.Unit) {
	o.mu.Lock()
	t := o.tasks[u.CorrelationID]
	delete(o.tasks, u.CorrelationID)
	o.mu.Unlock()

	var (
		token  []byte
		status = data.StatusCancelled
	)
	if t != nil {
		token, status = t.cancel(o.tr)
	} else if u.CorrelationID != data.NoCorrelation {
		o.tr.Cancel(u.CorrelationID, false)
	}

	updated, err := o.reg.Update(u.Key(), func(x *data.Unit) {
		x.Status = status
		x.CorrelationID = data.NoCorrelation
		x.ResumeToken = token
	})
	if err != nil {
		return
	}
	o.publish(event.Event{Type: event.TypeStatusChanged, Unit: updated})
}

// startUnit drives one unit through the start state machine. The second
// return reports whether the unit's state changed.
func (o *Orchestrator) startUnit(ctx context.Context, key data.Key) (*data.Unit, bool) {
	u, err := o.reg.Get(key)
	if err != nil {
		return nil, false
	}

	switch {
	case u.Status == data.StatusNotStarted:
		if u.Source == "" {
			o.log.Error("cannot start transfer", "asset_id", u.AssetID, "err", data.ErrNoSource)
			return u, false
		}
		corrID, err := o.tr.Create(u.Source, u.ResumeToken)
		if err != nil {
			o.log.Error("failed to create transfer", "asset_id", u.AssetID, "source", u.Source, "err", err)
			return u, false
		}
		t := newTask(o.log, u, corrID, resumableKind(u.Kind), o.assemblerFor(u.Kind), o)
		o.mu.Lock()
		o.tasks[corrID] = t
		o.mu.Unlock()

		updated, err := o.reg.Update(key, func(x *data.Unit) {
			x.Status = data.StatusQueued
			x.CorrelationID = corrID
		})
		if err != nil {
			return u, false
		}
		o.syncGauge()
		go o.runTask(ctx, t)
		return updated, true

	case u.Status.Restartable():
		o.log.Warn("restarting download from scratch", "asset_id", u.AssetID, "status", u.Status)
		o.teardown(u)
		if _, err := o.reg.Update(key, func(x *data.Unit) {
			x.Status = data.StatusNotStarted
			x.Progress = 0
			x.CorrelationID = data.NoCorrelation
			x.ResumeToken = nil
		}); err != nil {
			return u, false
		}
		return o.startUnit(ctx, key)

	default:
		o.log.Warn("ignoring start on completed download", "asset_id", u.AssetID)
		return u, false
	}
}

// teardown silently destroys the unit's network task, if any. No events are
// published; callers decide what the teardown means.
func (o *Orchestrator) teardown(u *data.Unit) {
	if u.CorrelationID == data.NoCorrelation {
		return
	}
	o.mu.Lock()
	t := o.tasks[u.CorrelationID]
	delete(o.tasks, u.CorrelationID)
	o.mu.Unlock()
	if t != nil {
		t.finish()
	}
	o.tr.Cancel(u.CorrelationID, false)
}

// runTask holds a worker slot for the lifetime of one transfer. Units that
// were paused or removed while queued never launch.
func (o *Orchestrator) runTask(ctx context.Context, t *task) {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-o.sem }()

	u, ok := o.reg.ByCorrelation(t.correlationID)
	if !ok || u.Status != data.StatusQueued {
		return
	}
	if err := o.tr.Launch(t.correlationID); err != nil {
		o.taskFailed(t.correlationID, err)
		return
	}
	o.reg.UpdateByCorrelation(t.correlationID, func(x *data.Unit) {
		x.Status = data.StatusInProgress
	})

	select {
	case <-t.done:
	case <-ctx.Done():
	}
}

// resolveAll maps descriptors to registry units, consulting the catalog so
// already-downloaded assets surface as completed without a transfer.
func (o *Orchestrator) resolveAll(ctx context.Context, descs []data.AssetDescriptor) data.Units {
	units := make(data.Units, len(descs))
	for i, d := range descs {
		downloaded := false
		if o.books != nil {
			var err error
			downloaded, err = o.books.IsAssetDownloaded(ctx, d.AssetID)
			if err != nil {
				o.log.Debug("downloaded-state lookup failed", "asset_id", d.AssetID, "err", err)
			}
		}
		units[i] = o.reg.Resolve(d, downloaded)
	}
	return units
}

func (o *Orchestrator) assemblerFor(kind data.AssetKind) assembly.Assembler {
	if kind == data.KindBook {
		return o.bookAssembler
	}
	return nil
}

// Book archives are unpacked from a clean payload, so their transfers
// restart rather than resume. Plain file kinds keep partial bytes.
func resumableKind(k data.AssetKind) bool {
	return k == data.KindZip || k == data.KindPDF
}

func (o *Orchestrator) publish(e event.Event) {
	metrics.DownloadEvents.WithLabelValues(string(e.Type)).Inc()
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

// publishUnitUpdate emits an UpdateStatus event scoped to one changed unit.
func (o *Orchestrator) publishUnitUpdate(access data.AccessKind, desc data.AssetDescriptor, u *data.Unit) {
	if u == nil {
		return
	}
	o.publish(event.Event{Type: event.TypeUpdateStatus, Batch: &data.BatchResponse{
		Access: access,
		Assets: []data.AssetDescriptor{desc},
		Units:  data.Units{u},
	}})
}

func (o *Orchestrator) syncGauge() {
	metrics.ActiveTransfers.Set(float64(len(o.reg.Live())))
}

// TransferProgress implements transport.Handler. Callbacks for unknown
// correlation ids are dropped.
func (o *Orchestrator) TransferProgress(correlationID, written, expected int64) {
	if t := o.taskFor(correlationID); t != nil {
		t.handleProgress(written, expected)
	}
}

// TransferResumed implements transport.Handler.
func (o *Orchestrator) TransferResumed(correlationID, offset, expected int64) {
	if t := o.taskFor(correlationID); t != nil {
		t.handleResumed(offset, expected)
	}
}

// TransferFinished implements transport.Handler.
func (o *Orchestrator) TransferFinished(correlationID int64, location string, err error) {
	if t := o.taskFor(correlationID); t != nil {
		t.handleFinished(location, err)
	}
}

func (o *Orchestrator) taskFor(correlationID int64) *task {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[correlationID]
	if !ok {
		o.log.Debug("callback for unknown transfer", "correlation_id", correlationID)
		return nil
	}
	return t
}

func (o *Orchestrator) taskProgress(correlationID int64, pct float64) {
	u, err := o.reg.UpdateByCorrelation(correlationID, func(x *data.Unit) {
		x.Status = data.StatusInProgress
		x.Progress = pct
	})
	if err != nil {
		return
	}
	o.publish(event.Event{Type: event.TypeProgress, Unit: u})
}

func (o *Orchestrator) taskCompleted(correlationID int64, location string) {
	o.mu.Lock()
	delete(o.tasks, correlationID)
	o.mu.Unlock()

	u, err := o.reg.UpdateByCorrelation(correlationID, func(x *data.Unit) {
		x.Status = data.StatusCompleted
		x.Progress = 100
		x.CorrelationID = data.NoCorrelation
		x.ResumeToken = nil
	})
	if err != nil {
		return
	}
	o.syncGauge()
	o.log.Info("download complete", "asset_id", u.AssetID, "location", location)

	if u.Kind == data.KindBook && o.setup != nil {
		go o.setup.AssetDownloaded(context.Background(), u.Clone())
	}
	o.publish(event.Event{Type: event.TypeComplete, Unit: u})
}

func (o *Orchestrator) taskFailed(correlationID int64, err error) {
	o.mu.Lock()
	delete(o.tasks, correlationID)
	o.mu.Unlock()

	u, uerr := o.reg.UpdateByCorrelation(correlationID, func(x *data.Unit) {
		x.Status = data.StatusError
		x.Progress = 0
		x.CorrelationID = data.NoCorrelation
	})
	if uerr != nil {
		return
	}
	o.syncGauge()
	o.log.Error("download failed", "asset_id", u.AssetID, "err", err)
	o.publish(event.Event{Type: event.TypeFailed, Unit: u})
}

var _ transport.Handler = (*Orchestrator)(nil)
var _ taskDelegate = (*Orchestrator)(nil)
