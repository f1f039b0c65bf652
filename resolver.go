// Package madns implements a multi-server, asynchronous, non-blocking A
// record resolver. A single Resolver issues UDP queries to one of several
// configured nameservers, tracks outstanding queries in a fixed-capacity
// table, and maintains a bounded in-memory cache — all driven by a caller
// that owns the event loop (SPEC_FULL.md §4.5/§5). There is no
// internal goroutine and no internal locking: Resolver is only safe for
// use from a single goroutine at a time, exactly like
// original_source/madns.c's single-threaded contract.
package madns

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/google/uuid"

	"github.com/jroosing/madns/internal/cache"
	"github.com/jroosing/madns/internal/diag"
	"github.com/jroosing/madns/internal/queryslot"
	"github.com/jroosing/madns/internal/servertable"
	"github.com/jroosing/madns/internal/wire"
)

const (
	// DefaultResolvConf matches original_source/madns.h's MADNS_RESOLV_CONF.
	DefaultResolvConf = "/etc/resolv.conf"
	// DefaultQueryTime matches MADNS_QUERY_TIME (seconds).
	DefaultQueryTime = 10 * time.Second
	// DefaultServerReqs matches MADNS_SERVER_REQS.
	DefaultServerReqs = 20

	// recvBufferSize is the 128 KiB SO_RCVBUF original_source/madns.c's
	// madns_create sets on its UDP socket.
	recvBufferSize = 128 * 1024
	// maxIncomingSize bounds a single recvfrom read.
	maxIncomingSize = 4096
)

var (
	ErrNoServers       = servertable.ErrNoServers
	ErrQsizeOutOfRange = errors.New("madns: qsize out of range [2,32767]")
	ErrSocket          = errors.New("madns: socket setup failed")
	ErrNoFreeSlots     = errors.New("madns: query table is full")
	// ErrInvalidRequest mirrors madns_request's upfront !ctx/strlen(name)
	// check (original_source/madns.c:271): a nil ctx or an over-long name
	// is rejected before a slot is ever allocated.
	ErrInvalidRequest = errors.New("madns: ctx is nil or name exceeds max length")
)

// AuditSink is implemented by internal/store.Store. Defined here (not
// imported from there) so internal/store has no reason to import this
// package — the dependency runs dispatcher -> interface, store -> satisfies it.
type AuditSink interface {
	RecordResolution(name, outcome, server string, latency time.Duration, at time.Time) error
}

// Options configures Create.
type Options struct {
	ResolvConf string
	QueryTime  time.Duration
	ServerReqs int
	Logger     *slog.Logger
	Audit      AuditSink
}

// Resolver is the dispatcher described in SPEC_FULL.md §4.5.
type Resolver struct {
	queryTime time.Duration

	servers *servertable.Table
	queries *queryslot.Table
	cache   *cache.Cache
	sink    *diag.Sink
	audit   AuditSink

	conn    *net.UDPConn
	rawConn syscall.RawConn
}

// Create builds a Resolver from the nameservers listed in opts.ResolvConf
// (default /etc/resolv.conf), sizing the query table to
// len(servers) * server_reqs, clamped per SPEC_FULL.md §4.3/§4.4.
func Create(opts Options) (*Resolver, error) {
	resolvConf := opts.ResolvConf
	if resolvConf == "" {
		resolvConf = DefaultResolvConf
	}
	queryTime := opts.QueryTime
	if queryTime <= 0 {
		queryTime = DefaultQueryTime
	}
	serverReqs := opts.ServerReqs
	if serverReqs <= 0 {
		serverReqs = DefaultServerReqs
	}

	ips, err := servertable.LoadResolvConf(resolvConf)
	if err != nil {
		return nil, err
	}
	servers, err := servertable.New(ips, serverReqs)
	if err != nil {
		return nil, err
	}

	qsize := servers.Len() * servers.ServerReqs()
	if qsize < 2 || qsize > 32767 {
		return nil, fmt.Errorf("%w: got %d", ErrQsizeOutOfRange, qsize)
	}

	conn, rawConn, err := openSocket()
	if err != nil {
		return nil, err
	}

	return &Resolver{
		queryTime: queryTime,
		servers:   servers,
		queries:   queryslot.New(qsize),
		cache:     cache.New(),
		sink:      diag.NewSink(opts.Logger),
		audit:     opts.Audit,
		conn:      conn,
		rawConn:   rawConn,
	}, nil
}

// openSocket opens a non-blocking, close-on-exec UDP/IPv4 socket with a
// 128 KiB receive buffer, matching original_source/madns.c's madns_create.
// Go's net package already marks sockets close-on-exec and non-blocking
// at the runtime-poller level; SO_RCVBUF still needs an explicit syscall.
func openSocket() (*net.UDPConn, syscall.RawConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferSize)
	})
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	if sockErr != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("%w: %v", ErrSocket, sockErr)
	}
	return conn, raw, nil
}

// Destroy releases the resolver's socket. Outstanding queries are simply
// dropped; there is no graceful drain, matching madns_destroy.
func (r *Resolver) Destroy() error {
	return r.conn.Close()
}

// Fileno returns the underlying socket's file descriptor, so the caller
// can fold it into their own select/epoll/kqueue loop, exactly as
// madns_fileno does.
func (r *Resolver) Fileno() (int, error) {
	var fd int
	err := r.rawConn.Control(func(f uintptr) { fd = int(f) })
	if err != nil {
		return 0, err
	}
	return fd, nil
}

// Ready returns how many more queries can be admitted right now.
func (r *Resolver) Ready() int {
	return r.queries.Ready()
}

// Expires returns how long the caller should wait before calling Response
// again assuming no datagram arrives first, mirroring madns_expires:
// query_time+1 if nothing is outstanding, else the earliest deadline
// relative to now (which may already be zero/negative if a query is
// already overdue).
func (r *Resolver) Expires(now time.Time) time.Duration {
	idx, ok := r.queries.Head()
	if !ok {
		return r.queryTime + time.Second
	}
	slot := r.queries.Get(idx)
	deadline := time.Unix(slot.Expires, 0)
	return deadline.Sub(now)
}

// Lookup checks the cache (and literal dotted-quad addresses) without
// sending any query, mirroring madns_lookup. ok is false when the name
// isn't cached (caller should fall back to Request); when ok is true and
// ip is nil, the cached answer is a negative one (NXDOMAIN or name too
// long to ever resolve).
func (r *Resolver) Lookup(name string, now time.Time) (ip net.IP, ok bool) {
	if literal := net.ParseIP(name); literal != nil {
		return literal, true
	}
	if len(name) > wire.MaxName {
		return nil, true
	}
	return r.cache.Get(name, now)
}

// Request admits a new outstanding query for name, associated with the
// caller-supplied ctx (returned later from Response/Cancel), and attempts
// to send it immediately. It returns the assigned transaction ID.
//
// If every upstream is momentarily saturated, the slot is still allocated
// (so Ready() correctly reflects reduced capacity) but nothing is sent;
// its deadline stays at the zero value, so Response reaps it as a timeout
// once it reaches the head of the active list — a deliberate carryover of
// original_source/madns.c's send_request behavior rather than an added
// retry mechanism.
func (r *Resolver) Request(ctx any, name string, now time.Time) (tid uint16, err error) {
	if ctx == nil {
		return 0, ErrInvalidRequest
	}
	if len(name) > wire.MaxName {
		return 0, ErrInvalidRequest
	}
	idx, tid, ok := r.queries.Alloc(ctx, name, now)
	if !ok {
		return 0, ErrNoFreeSlots
	}
	r.trySend(idx, now)
	return tid, nil
}

func (r *Resolver) trySend(idx int, now time.Time) {
	slot := r.queries.Get(idx)
	if slot == nil {
		return
	}
	serverIdx, ok := r.servers.Select(slot.Server)
	if !ok {
		return
	}
	msg, err := wire.BuildQuery(slot.TID, slot.Name)
	if err != nil {
		return
	}
	snap := r.servers.Snapshot()
	addr := &net.UDPAddr{IP: snap[serverIdx].IP, Port: 53}
	if _, err := r.conn.WriteToUDP(msg, addr); err != nil {
		return
	}
	r.servers.Acquire(serverIdx)
	r.queries.SetServer(idx, serverIdx)
	r.queries.SetExpires(idx, now.Add(r.queryTime))
	r.sink.Request(uuid.New(), slot.Name, addr.IP.String(), slot.TID)
}

// Response reads the datagrams waiting on the socket, matching each one
// against the outstanding query table by transaction ID and source
// address, until one completes a query; it updates the cache on a valid
// positive/negative answer and returns that query's context and resolved
// address (nil means NXDOMAIN/failure). Datagrams still queued after that
// one are left for the next call. When no more completed queries remain
// this call, Response returns ok=false; the caller should stop calling it
// until Fileno is readable again.
//
// If no datagram completes a query, the active list's head is checked for
// a timeout exactly once, matching madns_response's single head-of-list
// expiry check per call rather than scanning the whole table.
func (r *Resolver) Response(now time.Time) (ctx any, ip net.IP, ok bool) {
	if ctx, ip, matched := r.drainOne(now); matched {
		return ctx, ip, true
	}
	return r.checkHeadTimeout(now)
}

func (r *Resolver) drainOne(now time.Time) (ctx any, ip net.IP, matched bool) {
	buf := make([]byte, maxIncomingSize)
	// The caller only invokes Response once Fileno() is readable (or its
	// own timeout fired), so every read here should be immediate; an
	// explicit past deadline turns a would-block condition into an error
	// instead of letting ReadFromUDP block this goroutine, preserving the
	// non-blocking, caller-driven contract of SPEC_FULL.md §5.
	_ = r.conn.SetReadDeadline(time.Now())
	for {
		n, peer, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, nil, false
		}
		tid, qname, result, perr := wire.ParseResponse(buf[:n])
		if perr != nil {
			continue
		}
		slotIdx := r.queries.SlotForTID(tid)
		slot := r.queries.Get(slotIdx)
		if slot == nil || slot.TID != tid {
			continue
		}
		if slot.Server < 0 {
			continue
		}
		serverSnap := r.servers.Snapshot()
		if slot.Server >= len(serverSnap) || !serverSnap[slot.Server].IP.Equal(peer.IP) {
			continue
		}
		r.sink.Response(uuid.New(), tid, n, peer.String())

		switch result.Status {
		case wire.StatusTryAnother:
			continue
		case wire.StatusNXDomain:
			if wire.NormalizeName(qname) == wire.NormalizeName(slot.Name) {
				r.cache.Set(slot.Name, nil, uint32(result.TTL), now)
			}
			return r.finish(slotIdx, nil, "nxdomain", now)
		case wire.StatusAnswer:
			if wire.NormalizeName(qname) == wire.NormalizeName(slot.Name) {
				r.cache.Set(slot.Name, result.IP, result.TTL, now)
			}
			return r.finish(slotIdx, result.IP, "answer", now)
		}
	}
}

func (r *Resolver) finish(idx int, ip net.IP, outcome string, now time.Time) (ctx any, resultIP net.IP, ok bool) {
	slot := r.queries.Get(idx)
	ctx = slot.Ctx
	name := slot.Name
	server := slot.Server
	started := slot.Started

	if server >= 0 {
		r.servers.Release(server, now.Sub(started).Seconds())
	}
	r.queries.Free(idx)
	r.sink.Resolved(uuid.New(), name, outcome, now.Sub(started))
	if r.audit != nil {
		_ = r.audit.RecordResolution(name, outcome, r.serverIP(server), now.Sub(started), now)
	}
	return ctx, ip, true
}

func (r *Resolver) serverIP(idx int) string {
	snap := r.servers.Snapshot()
	if idx < 0 || idx >= len(snap) {
		return ""
	}
	return snap[idx].IP.String()
}

func (r *Resolver) checkHeadTimeout(now time.Time) (ctx any, ip net.IP, ok bool) {
	idx, headOK := r.queries.Head()
	if !headOK {
		return nil, nil, false
	}
	slot := r.queries.Get(idx)
	if time.Unix(slot.Expires, 0).After(now) {
		return nil, nil, false
	}
	return r.finish(idx, nil, "timeout", now)
}

// Cancel abandons an outstanding query, identified by the ctx value
// originally passed to Request, via a linear scan of the active list —
// matching madns_cancel's search-by-context-pointer.
func (r *Resolver) Cancel(ctx any) bool {
	for _, idx := range r.queries.Active() {
		slot := r.queries.Get(idx)
		if slot != nil && slot.Ctx == ctx {
			if slot.Server >= 0 {
				r.servers.Release(slot.Server, time.Since(slot.Started).Seconds())
			}
			r.queries.Free(idx)
			return true
		}
	}
	return false
}

// DumpData assembles the diagnostics snapshot consumed by Dump and by
// internal/api's handlers.Snapshot — the one place that translates live
// cache/server/query-table state into the dependency-free diag.DumpData
// shape, so neither diag nor api needs to import this package.
func (r *Resolver) DumpData() diag.DumpData {
	data := diag.DumpData{
		Summary: diag.Summary{
			Ready:        r.queries.Ready(),
			Active:       r.queries.QSize() - r.queries.Ready(),
			CacheEntries: r.cache.Len(),
			Servers:      r.servers.Len(),
		},
	}
	for _, s := range r.servers.Snapshot() {
		data.Servers = append(data.Servers, diag.ServerRow{IP: s.IP.String(), InFlight: s.InFlight, Latency: s.Latency})
	}
	for _, idx := range r.queries.Active() {
		slot := r.queries.Get(idx)
		data.Queries = append(data.Queries, diag.QueryRow{
			Name: slot.Name, TID: slot.TID, Server: r.serverIP(slot.Server), Expires: time.Unix(slot.Expires, 0),
		})
	}
	for _, c := range r.cache.Snapshot() {
		ipStr := "NXDOMAIN"
		if c.IP != nil {
			ipStr = c.IP.String()
		}
		data.Cache = append(data.Cache, diag.CacheRow{Name: c.Name, IP: ipStr, Expires: time.Unix(c.Expires, 0)})
	}
	return data
}

// Dump renders diagnostics per SPEC_FULL.md §6/original madns_dump.
func (r *Resolver) Dump(w *os.File, opts diag.Opts) {
	diag.Dump(w, opts, r.DumpData())
}
