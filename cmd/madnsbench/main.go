// Command madnsbench is a closed-loop load generator modelled on the
// teacher's cmd/bench, retargeted at the madns dispatcher instead of firing
// raw UDP queries at a DNS server directly: it drives a single Resolver from
// one goroutine (the only safe way to drive it, per SPEC_FULL.md §5),
// keeping the query table as full as admission allows and reporting
// throughput/latency percentiles once every requested lookup completes.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/madns"
)

func main() {
	var (
		resolvConf = flag.String("resolv-conf", madns.DefaultResolvConf, "path to a resolv.conf-style nameserver list")
		name       = flag.String("name", "example.com", "query name")
		requests   = flag.Int("requests", 20000, "total number of lookups to issue")
		serverReqs = flag.Int("server-reqs", madns.DefaultServerReqs, "max in-flight queries per upstream")
		queryTime  = flag.Duration("query-time", madns.DefaultQueryTime, "per-query timeout")
	)
	flag.Parse()

	if err := run(*resolvConf, *name, *requests, *serverReqs, *queryTime); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(resolvConf, name string, total, serverReqs int, queryTime time.Duration) error {
	r, err := madns.Create(madns.Options{ResolvConf: resolvConf, QueryTime: queryTime, ServerReqs: serverReqs})
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}
	defer r.Destroy()

	fd, err := r.Fileno()
	if err != nil {
		return fmt.Errorf("resolving fileno: %w", err)
	}

	started := make(map[int]time.Time, serverReqs)
	lat := make([]float64, 0, total)
	var answers, negatives, timeouts int

	issued := 0
	t0 := time.Now()

	for issued < total || len(started) > 0 {
		now := time.Now()
		for issued < total && r.Ready() > 0 {
			ctx := issued
			if _, err := r.Request(ctx, name, now); err != nil {
				break
			}
			started[ctx] = now
			issued++
		}

		if ctx, ip, ok := r.Response(time.Now()); ok {
			id, _ := ctx.(int)
			t, found := started[id]
			if found {
				delete(started, id)
				ms := float64(time.Since(t).Microseconds()) / 1000.0
				lat = append(lat, ms)
				switch {
				case ip != nil:
					answers++
				default:
					negatives++
				}
			}
			continue
		}

		wait := r.Expires(time.Now())
		if wait < 0 {
			wait = 0
		}
		waitReadable(fd, wait)
	}
	_ = timeouts
	elapsed := time.Since(t0).Seconds()

	if len(lat) == 0 {
		fmt.Println("no completed lookups")
		return nil
	}
	sort.Float64s(lat)
	p50 := percentile(lat, 50)
	p95 := percentile(lat, 95)
	p99 := percentile(lat, 99)
	qps := float64(len(lat)) / elapsed

	fmt.Printf("resolv_conf=%s name=%q requests=%d server_reqs=%d\n", resolvConf, name, total, serverReqs)
	fmt.Printf("elapsed_s=%.3f qps=%.1f answers=%d negatives=%d\n", elapsed, qps, answers, negatives)
	fmt.Printf("latency_ms p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f\n", p50, p95, p99, lat[0], lat[len(lat)-1])
	return nil
}

// waitReadable blocks up to timeout for the resolver's socket to become
// readable, via a plain select(2) — madnsbench issues one resolver's worth
// of traffic, so epoll's scalability over many descriptors (used by
// cmd/madnsd) isn't needed here.
func waitReadable(fd int, timeout time.Duration) {
	var set unix.FdSet
	set.Bits[fd/64] |= 1 << uint(fd%64)
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	_, _ = unix.Select(fd+1, &set, nil, nil, &tv)
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(float64(len(sorted))*float64(p)/100.0) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
