// Package registry holds the download history: every transfer unit the
// engine has seen, keyed by identity. It is a runtime index over in-flight
// and past transfers, not the source of truth for completed state (the
// catalog is).
package registry

import (
	"log/slog"
	"sync"

	"github.com/shelfdapp/shelfd/internal/data"
)

// Registry is a thread-safe ordered table of transfer units. All reads are
// served from clones so callers can never race the single writer.
type Registry struct {
	log *slog.Logger

	mu    sync.RWMutex
	order []data.Key
	units map[data.Key]*data.Unit
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{log: log, units: make(map[data.Key]*data.Unit)}
}

// Resolve returns the unit for the descriptor, creating it on first
// reference. Resolution is idempotent: a descriptor matching an existing
// unit's identity, checksum, source and size yields the same unit. If the
// manifest re-describes a known asset with different facts the old unit is
// replaced. When downloaded is true, a new or replacement unit is synthesized
// directly into Completed state with no task.
func (r *Registry) Resolve(d data.AssetDescriptor, downloaded bool) *data.Unit {
	candidate := &data.Unit{
		OwnerID:       d.OwnerID,
		AssetID:       d.AssetID,
		Kind:          d.Kind,
		Source:        d.SourceURL(),
		Size:          d.Size,
		Checksum:      d.Checksum,
		Status:        data.StatusNotStarted,
		CorrelationID: data.NoCorrelation,
	}
	if downloaded {
		candidate.Status = data.StatusCompleted
		candidate.Progress = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.units[candidate.Key()]; ok {
		if existing.SameDownload(candidate) {
			return existing.Clone()
		}
		r.log.Warn("manifest facts changed for known asset, replacing unit",
			"owner_id", d.OwnerID, "asset_id", d.AssetID)
		r.units[candidate.Key()] = candidate
		return candidate.Clone()
	}

	r.units[candidate.Key()] = candidate
	r.order = append(r.order, candidate.Key())
	return candidate.Clone()
}

// Get returns a snapshot of the unit with the given identity.
func (r *Registry) Get(key data.Key) (*data.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[key]
	if !ok {
		return nil, data.ErrNotFound
	}
	return u.Clone(), nil
}

// ByCorrelation returns a snapshot of the unit owning the given network-task
// correlation id. At most one live unit may own an id at a time.
func (r *Registry) ByCorrelation(id int64) (*data.Unit, bool) {
	if id == data.NoCorrelation {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.units {
		if u.CorrelationID == id {
			return u.Clone(), true
		}
	}
	return nil, false
}

// Update mutates the unit under the registry's exclusion domain and returns
// a snapshot of the result.
func (r *Registry) Update(key data.Key, fn func(*data.Unit)) (*data.Unit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[key]
	if !ok {
		return nil, data.ErrNotFound
	}
	fn(u)
	return u.Clone(), nil
}

// UpdateByCorrelation mutates the unit owning the given correlation id. A
// missing id returns ErrNotFound; callbacks for concurrently removed tasks
// are expected and harmless.
func (r *Registry) UpdateByCorrelation(id int64, fn func(*data.Unit)) (*data.Unit, error) {
	if id == data.NoCorrelation {
		return nil, data.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.units {
		if u.CorrelationID == id {
			fn(u)
			return u.Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

// Remove deletes the unit from history. Only explicit removal destroys a
// unit; every other transition keeps it registered.
func (r *Registry) Remove(key data.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[key]; !ok {
		return
	}
	delete(r.units, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Snapshot returns clones of all units in registration order.
func (r *Registry) Snapshot() data.Units {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Units, 0, len(r.order))
	for _, k := range r.order {
		if u, ok := r.units[k]; ok {
			out = append(out, u.Clone())
		}
	}
	return out
}

// Live returns clones of all units that are queued, in progress or paused.
func (r *Registry) Live() data.Units {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(data.Units, 0)
	for _, k := range r.order {
		if u, ok := r.units[k]; ok && u.Status.Live() {
			out = append(out, u.Clone())
		}
	}
	return out
}

// CommittedSize is the sum of expected sizes of all live units. Admission
// control charges queued, in-progress and paused transfers against the
// device storage budget.
func (r *Registry) CommittedSize() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, u := range r.units {
		if u.Status.Live() {
			total += u.Size
		}
	}
	return total
}
