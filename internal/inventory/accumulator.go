package inventory

import (
	"log/slog"
	"sync"

	"firestige.xyz/satchel/internal/metrics"
)

// DefaultMaxPendingDeltas bounds deltas waiting for their base record.
const DefaultMaxPendingDeltas = 1024

// Stats counts accumulator activity.
type Stats struct {
	Applied        uint64 // full records stored
	DeltasApplied  uint64
	DeltasDeferred uint64 // deltas that arrived before their base
	DeltasDropped  uint64 // pending buffer overflow
	Orphans        uint64 // deltas dropped at Finish
}

// Accumulator applies records to a Model in arrival order. Apply calls are
// serialized; Snapshot never observes a partially applied record.
type Accumulator struct {
	mu         sync.RWMutex
	model      *Model
	pending    map[uint64][]*ArtifactDelta
	numPending int
	maxPending int
	stats      Stats
}

// NewAccumulator creates an accumulator over an empty model.
func NewAccumulator(maxPendingDeltas int) *Accumulator {
	if maxPendingDeltas <= 0 {
		maxPendingDeltas = DefaultMaxPendingDeltas
	}
	return &Accumulator{
		model:      NewModel(),
		pending:    make(map[uint64][]*ArtifactDelta),
		maxPending: maxPendingDeltas,
	}
}

// Apply folds records into the model.
func (a *Accumulator) Apply(records ...Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, r := range records {
		if r == nil {
			continue
		}
		switch v := r.(type) {
		case *ArtifactDelta:
			a.applyDelta(v)
		case *Artifact:
			a.model.put(cloneArtifact(v))
			a.stats.Applied++
			metrics.RecordsAppliedTotal.WithLabelValues(string(KindArtifact)).Inc()
			a.flushPending(v.GUID)
		default:
			a.model.put(r)
			a.stats.Applied++
			metrics.RecordsAppliedTotal.WithLabelValues(string(r.Kind())).Inc()
		}
	}
}

func (a *Accumulator) applyDelta(d *ArtifactDelta) {
	if base, ok := a.model.Artifacts[d.GUID]; ok {
		mutate(base, d)
		a.stats.DeltasApplied++
		metrics.RecordsAppliedTotal.WithLabelValues(string(KindArtifactDelta)).Inc()
		return
	}

	if a.numPending >= a.maxPending {
		a.stats.DeltasDropped++
		slog.Warn("pending delta buffer full, dropping artifact delta",
			"guid", d.GUID, "pending", a.numPending)
		return
	}
	a.pending[d.GUID] = append(a.pending[d.GUID], d)
	a.numPending++
	a.stats.DeltasDeferred++
	metrics.PendingDeltas.Inc()
	slog.Debug("artifact delta deferred until base record", "guid", d.GUID)
}

func (a *Accumulator) flushPending(guid uint64) {
	deltas, ok := a.pending[guid]
	if !ok {
		return
	}
	delete(a.pending, guid)
	a.numPending -= len(deltas)
	metrics.PendingDeltas.Sub(float64(len(deltas)))

	base := a.model.Artifacts[guid]
	for _, d := range deltas {
		mutate(base, d)
		a.stats.DeltasApplied++
		metrics.RecordsAppliedTotal.WithLabelValues(string(KindArtifactDelta)).Inc()
	}
}

func mutate(base *Artifact, d *ArtifactDelta) {
	if d.Level != 0 {
		base.Level = d.Level
	}
	base.Rolls = append(base.Rolls, d.Rolls...)
}

// Snapshot returns a deep copy of the current model.
func (a *Accumulator) Snapshot() *Model {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model.Clone()
}

// Pending returns the number of deltas waiting for a base record.
func (a *Accumulator) Pending() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.numPending
}

// Stats returns a copy of the counters.
func (a *Accumulator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Finish drops every delta whose base never arrived, logging each one, and
// returns how many were dropped. The model is left intact.
func (a *Accumulator) Finish() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for guid, deltas := range a.pending {
		for _, d := range deltas {
			slog.Warn("artifact delta without base record dropped",
				"guid", guid, "level", d.Level, "rolls", len(d.Rolls))
		}
		dropped += len(deltas)
	}
	metrics.PendingDeltas.Sub(float64(a.numPending))
	clear(a.pending)
	a.numPending = 0
	a.stats.Orphans += uint64(dropped)
	return dropped
}

// Seed replaces the model with a copy of m. It is used to carry a previous
// session's inventory forward across a reconnect.
func (a *Accumulator) Seed(m *Model) {
	if m == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.model = m.Clone()
}
