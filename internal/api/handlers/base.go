// Package handlers implements the read-only diagnostics endpoints described
// in SPEC_FULL.md §4.8, adapted from the teacher's internal/api/handlers
// package. Unlike the teacher's Handler (which reached into a live
// *config.Config/*filtering.PolicyEngine/*zone.Zone set on every request),
// this Handler never touches the resolver directly: it only renders
// whatever Snapshot the owning event loop last handed it via Update, so a
// gin request goroutine can never race the resolver's single-threaded
// contract (SPEC_FULL.md §5).
package handlers

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jroosing/madns/internal/diag"
)

// ServerStat is one upstream's diagnostics row.
type ServerStat struct {
	IP       string  `json:"ip"`
	InFlight int     `json:"in_flight"`
	Latency  float64 `json:"latency"`
}

// Snapshot is a point-in-time copy of resolver state. The caller's event
// loop builds one after each Response/Expires cycle and hands it to
// Handler.Update; handlers only ever read the last one stored.
type Snapshot struct {
	Ready        int
	Active       int
	CacheEntries int
	Servers      []ServerStat
	Dump         diag.DumpData
	GeneratedAt  time.Time
}

// Handler serves /api/v1/health, /stats, and /dump.
type Handler struct {
	logger    *slog.Logger
	startTime time.Time
	snapshot  atomic.Pointer[Snapshot]
}

// New builds a Handler with an empty initial snapshot; call Update once the
// resolver has produced its first one.
func New(logger *slog.Logger) *Handler {
	h := &Handler{logger: logger, startTime: time.Now()}
	h.snapshot.Store(&Snapshot{})
	return h
}

// Update replaces the snapshot served by subsequent requests. Safe to call
// from the single goroutine that owns the resolver; reads from request
// goroutines are lock-free via atomic.Pointer.
func (h *Handler) Update(s Snapshot) {
	s.GeneratedAt = time.Now()
	h.snapshot.Store(&s)
}

func (h *Handler) current() Snapshot {
	if s := h.snapshot.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}
