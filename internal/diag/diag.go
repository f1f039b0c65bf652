// Package diag provides the resolver's structured logging and the
// SUMMARY/QUERIES/CACHE dump format from SPEC_FULL.md §4.7 and §6,
// adapted from the teacher's internal/logging package. Unlike the
// teacher, Configure never calls slog.SetDefault: SPEC_FULL.md's design
// notes call out the original C implementation's process-wide
// madns_log global as a wart to avoid, so each Resolver carries its own
// injected *slog.Logger instead of reaching into global state.
package diag

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config mirrors the teacher's logging.Config field-for-field.
type Config struct {
	Level            string
	Structured       bool
	StructuredFormat string
	IncludePID       bool
	ExtraFields      map[string]string
}

// Configure builds a *slog.Logger from cfg without touching global state.
func Configure(cfg Config) *slog.Logger {
	level := parseLevel(cfg.Level)
	out := io.Writer(os.Stderr)

	attrs := make([]slog.Attr, 0, len(cfg.ExtraFields)+1)
	for k, v := range cfg.ExtraFields {
		attrs = append(attrs, slog.String(k, v))
	}
	if cfg.IncludePID {
		attrs = append(attrs, slog.Int("pid", os.Getpid()))
	}

	var handler slog.Handler
	if cfg.Structured && strings.ToLower(cfg.StructuredFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Sink is the per-resolver diagnostic log, grounded on
// original_source/madns.c's LOG()/log_packet() calls, but injected rather
// than a package-level FILE*. A nil *Sink is valid and logs nothing,
// matching madns_log's default-unset (no diagnostics) behavior.
type Sink struct {
	logger *slog.Logger
	epoch  time.Time
}

// NewSink wraps logger (nil is fine) with a monotonic epoch for
// "monotonic seconds" timestamps, resolving SPEC_FULL.md's open question
// on timestamp source: time.Since(epoch) from resolver construction.
func NewSink(logger *slog.Logger) *Sink {
	return &Sink{logger: logger, epoch: time.Now()}
}

func (s *Sink) elapsed() float64 {
	if s == nil {
		return 0
	}
	return time.Since(s.epoch).Seconds()
}

// Request logs a query being sent upstream.
func (s *Sink) Request(corrID uuid.UUID, name string, server string, tid uint16) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Debug("dns request sent",
		"t", s.elapsed(), "corr", corrID.String(), "name", name, "server", server, "tid", tid)
}

// Response logs a datagram received from upstream whose transaction ID and
// source address matched an outstanding query; datagrams that match no
// query are not logged.
func (s *Sink) Response(corrID uuid.UUID, tid uint16, bytes int, from string) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Debug("dns response received",
		"t", s.elapsed(), "corr", corrID.String(), "tid", tid, "bytes", bytes, "from", from)
}

// Resolved logs a query leaving the active table, successfully or not.
func (s *Sink) Resolved(corrID uuid.UUID, name string, outcome string, latency time.Duration) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Info("dns query resolved",
		"t", s.elapsed(), "corr", corrID.String(), "name", name, "outcome", outcome,
		"latency_ms", float64(latency.Microseconds())/1000.0)
}

// Opts is the SUMMARY/QUERIES/CACHE section bitmask from madns.h's
// MADNS_OPTS, carried over unchanged since Dump's external text format is
// part of SPEC_FULL.md §6.
type Opts uint8

const (
	OptSummary Opts = 1 << iota
	OptQueries
	OptCache
)

// Summary is the first line of a Dump, written when OptSummary is set or
// opts is zero.
type Summary struct {
	Ready        int
	Active       int
	CacheEntries int
	Servers      int
}

// QueryRow is one row of the QUERIES section.
type QueryRow struct {
	Name    string
	TID     uint16
	Server  string
	Expires time.Time
}

// CacheRow is one row of the CACHE section.
type CacheRow struct {
	Name    string
	IP      string
	Expires time.Time
}

// ServerRow is part of the QUERIES section header, one per upstream.
type ServerRow struct {
	IP       string
	InFlight int
	Latency  float64
}

// DumpData is everything Dump needs; the resolver package assembles it
// from cache/servertable/queryslot snapshots so this package stays free
// of a dependency cycle back onto the resolver.
type DumpData struct {
	Summary Summary
	Servers []ServerRow
	Queries []QueryRow
	Cache   []CacheRow
}

// Dump renders d to w according to opts, in the SUMMARY/QUERIES/CACHE
// layout original_source/madns.c's madns_dump produces.
func Dump(w io.Writer, opts Opts, d DumpData) {
	if opts&OptSummary != 0 || opts == 0 {
		fmt.Fprintf(w, "SUMMARY ready=%d active=%d cache=%d servers=%d\n",
			d.Summary.Ready, d.Summary.Active, d.Summary.CacheEntries, d.Summary.Servers)
	}
	if opts&OptQueries != 0 {
		fmt.Fprintln(w, "QUERIES")
		for _, s := range d.Servers {
			fmt.Fprintf(w, "  server %s in_flight=%d latency=%.4f\n", s.IP, s.InFlight, s.Latency)
		}
		for _, q := range d.Queries {
			fmt.Fprintf(w, "  query name=%s tid=%d server=%s expires=%s\n",
				q.Name, q.TID, q.Server, q.Expires.Format(time.RFC3339))
		}
	}
	if opts&OptCache != 0 {
		fmt.Fprintln(w, "CACHE")
		for _, c := range d.Cache {
			fmt.Fprintf(w, "  %s -> %s expires=%s\n", c.Name, c.IP, c.Expires.Format(time.RFC3339))
		}
	}
}
