// Package servertable tracks the set of upstream nameservers a resolver
// may query, their in-flight load, and a decaying average of observed
// latency, and implements the server-selection policy from
// SPEC_FULL.md §4.4 / original_source/madns.c's SERVER table and
// send_request.
package servertable

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/jroosing/madns/internal/helpers"
)

var (
	ErrNoServers = errors.New("servertable: no usable nameservers")
)

// Server is one upstream nameserver and its current load/latency state.
type Server struct {
	IP       net.IP
	InFlight int
	// Latency is a decaying average of round-trip time, in seconds.
	Latency float64
}

// Table holds every configured upstream and the selection policy's state.
type Table struct {
	servers    []Server
	serverReqs int
}

// LoadResolvConf reads nameserver IPv4 addresses from a resolv.conf-style
// file, considering only "nameserver <addr>" lines and ignoring everything
// else (comments, search/options directives, IPv6 addresses) — the same
// narrow contract original_source/madns.c's madns_create and hostip.c rely
// on; this is deliberately not a general resolv.conf parser.
func LoadResolvConf(path string) ([]net.IP, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("servertable: opening %s: %w", path, err)
	}
	defer f.Close()
	return parseResolvConf(f)
}

func parseResolvConf(r io.Reader) ([]net.IP, error) {
	var servers []net.IP
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || fields[0] != "nameserver" {
			continue
		}
		ip := net.ParseIP(fields[1]).To4()
		if ip == nil {
			continue
		}
		servers = append(servers, ip)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("servertable: scanning resolv.conf: %w", err)
	}
	return servers, nil
}

// New builds a Table for the given upstream addresses. serverReqs is
// clamped to [1, floor(32767/len(ips))] so that the query table size
// qsize = len(ips)*serverReqs never exceeds 32767, which keeps the TID
// multiplier range floor(32767/qsize) at least 1.
func New(ips []net.IP, serverReqs int) (*Table, error) {
	if len(ips) == 0 {
		return nil, ErrNoServers
	}
	maxReqs := 32767 / len(ips)
	serverReqs = helpers.ClampInt(serverReqs, 1, maxReqs)

	servers := make([]Server, len(ips))
	for i, ip := range ips {
		servers[i] = Server{IP: ip}
	}
	return &Table{servers: servers, serverReqs: serverReqs}, nil
}

// ServerReqs returns the per-server concurrency cap.
func (t *Table) ServerReqs() int { return t.serverReqs }

// Len returns the number of configured servers.
func (t *Table) Len() int { return len(t.servers) }

// Snapshot returns a copy of the server table for diagnostics.
func (t *Table) Snapshot() []Server {
	out := make([]Server, len(t.servers))
	copy(out, t.servers)
	return out
}

// Select picks the next server to send a query to: among servers other
// than prevServer (the query's own previously-tried server, or -1 if this
// query has never been sent) that have spare capacity, the one with the
// lowest latency. Returns ok=false if every eligible server is saturated.
func (t *Table) Select(prevServer int) (idx int, ok bool) {
	best := -1
	for i := range t.servers {
		if i == prevServer {
			continue
		}
		if t.servers[i].InFlight >= t.serverReqs {
			continue
		}
		if best < 0 || t.servers[i].Latency < t.servers[best].Latency {
			best = i
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// Acquire marks idx as handling one more in-flight query.
func (t *Table) Acquire(idx int) {
	t.servers[idx].InFlight++
}

// Release decrements idx's in-flight count and folds elapsedSeconds into
// its decaying latency average. Called for every query that leaves the
// active set, whether it succeeded or timed out, matching
// original_source/madns.c's destroy_query.
func (t *Table) Release(idx int, elapsedSeconds float64) {
	s := &t.servers[idx]
	if s.InFlight > 0 {
		s.InFlight--
	}
	denom := float64(t.serverReqs * 2)
	if denom <= 0 {
		denom = 1
	}
	s.Latency += (elapsedSeconds - s.Latency) / denom
}
