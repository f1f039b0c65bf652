// Command dnsquery is a one-shot lookup CLI demonstrating the madns
// resolver library end to end: Create, Lookup (cache/literal short-circuit),
// Request, and a polling loop over Response until the single
// outstanding query completes or times out. Retargeted from the teacher's
// cmd/dnsquery (which built and fired a raw DNS packet at one server over
// net.DialUDP) to exercise the multi-server dispatcher instead.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jroosing/madns"
)

func main() {
	var (
		resolvConf = flag.String("resolv-conf", madns.DefaultResolvConf, "path to a resolv.conf-style nameserver list")
		name       = flag.String("name", "example.com", "query name")
		queryTime  = flag.Duration("timeout", madns.DefaultQueryTime, "per-query timeout")
		quiet      = flag.Bool("quiet", false, "suppress output; exit status alone indicates success")
	)
	flag.Parse()

	ip, outcome, err := lookup(*resolvConf, *name, *queryTime)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "dnsquery error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		if outcome != "answer" {
			os.Exit(1)
		}
		return
	}
	switch outcome {
	case "answer":
		fmt.Printf("%s -> %s\n", *name, ip)
	case "cached":
		fmt.Printf("%s -> %s (cached)\n", *name, ip)
	case "nxdomain":
		fmt.Printf("%s -> NXDOMAIN\n", *name)
		os.Exit(1)
	case "timeout":
		fmt.Printf("%s -> timeout\n", *name)
		os.Exit(1)
	}
}

func lookup(resolvConf, name string, queryTime time.Duration) (ip string, outcome string, err error) {
	r, err := madns.Create(madns.Options{ResolvConf: resolvConf, QueryTime: queryTime})
	if err != nil {
		return "", "", fmt.Errorf("creating resolver: %w", err)
	}
	defer r.Destroy()

	now := time.Now()
	if cached, ok := r.Lookup(name, now); ok {
		if cached == nil {
			return "", "nxdomain", nil
		}
		return cached.String(), "cached", nil
	}

	if _, err := r.Request("dnsquery", name, now); err != nil {
		return "", "", fmt.Errorf("requesting lookup: %w", err)
	}

	deadline := now.Add(queryTime + time.Second)
	for {
		now = time.Now()
		if ctx, answer, ok := r.Response(now); ok {
			_ = ctx
			if answer == nil {
				// A nil answer is either NXDOMAIN (now cached negatively)
				// or a timeout (nothing cached).
				if _, cached := r.Lookup(name, now); cached {
					return "", "nxdomain", nil
				}
				return "", "timeout", nil
			}
			return answer.String(), "answer", nil
		}
		if now.After(deadline) {
			return "", "timeout", nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}
