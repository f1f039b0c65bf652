// Command madnsd is the production consumer of the madns resolver library,
// analogous to (but, per SPEC_FULL.md §6, deliberately not a reimplementation
// of) the original hostip helper: it does not speak hostip's line-oriented
// stdin/stdout protocol. Instead it wires a Resolver into a real epoll event
// loop, issuing a configurable set of demonstration lookups on a timer so
// the diagnostics API and audit log have something to report, grounded on
// the teacher's cmd/hydradns bootstrap shape (flags -> config -> logging ->
// resolver -> optional subsystems -> signal-driven shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jroosing/madns"
	"github.com/jroosing/madns/internal/api"
	"github.com/jroosing/madns/internal/api/handlers"
	"github.com/jroosing/madns/internal/config"
	"github.com/jroosing/madns/internal/diag"
	"github.com/jroosing/madns/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (optional; env MADNS_* and defaults otherwise)")
		namesFlag  = flag.String("names", "example.com,golang.org", "comma-separated names resolved on a timer to exercise the resolver")
		interval   = flag.Duration("interval", 5*time.Second, "how often to reissue the demonstration lookups")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := diag.Configure(diag.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
	})
	logger.Info("madnsd starting", "resolv_conf", cfg.ResolvConf, "server_reqs", cfg.ServerReqs, "query_time", cfg.QueryTime)

	var audit madns.AuditSink
	if cfg.Store.Enabled {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening audit store: %w", err)
		}
		defer s.Close()
		audit = s
		logger.Info("audit log enabled", "path", cfg.Store.Path)
	}

	resolver, err := madns.Create(madns.Options{
		ResolvConf: cfg.ResolvConf,
		QueryTime:  cfg.QueryTime,
		ServerReqs: cfg.ServerReqs,
		Logger:     logger,
		Audit:      audit,
	})
	if err != nil {
		return fmt.Errorf("creating resolver: %w", err)
	}
	defer resolver.Destroy()

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg.API.Host, cfg.API.Port, logger)
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
				logger.Error("diagnostics api stopped", "err", err)
			}
		}()
		logger.Info("diagnostics api listening", "addr", apiSrv.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiSrv.Shutdown(shutdownCtx)
		}()
	}

	names := splitNames(*namesFlag)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return eventLoop(ctx, resolver, apiSrv, names, *interval, logger)
}

func splitNames(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// eventLoop is a single-goroutine epoll loop over the resolver's socket,
// grounded on original_source/hostip.c's select() loop but reimplemented
// with golang.org/x/sys/unix epoll per SPEC_FULL.md §6. It never starts a
// second goroutine that touches resolver: the API server (if any) only
// reads the handlers.Snapshot pushed here after each iteration.
func eventLoop(ctx context.Context, r *madns.Resolver, apiSrv *api.Server, names []string, interval time.Duration, logger *slog.Logger) error {
	fd, err := r.Fileno()
	if err != nil {
		return fmt.Errorf("resolving fileno: %w", err)
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl: %w", err)
	}

	nextDemo := time.Now()
	events := make([]unix.EpollEvent, 1)
	pushSnapshot(r, apiSrv)

	for {
		select {
		case <-ctx.Done():
			logger.Info("madnsd shutting down")
			return nil
		default:
		}

		now := time.Now()
		if !now.Before(nextDemo) {
			issueDemoLookups(r, names, now, logger)
			nextDemo = now.Add(interval)
		}

		if qctx, ip, ok := r.Response(time.Now()); ok {
			name, _ := qctx.(string)
			logger.Info("lookup completed", "name", name, "ip", ipString(ip))
			pushSnapshot(r, apiSrv)
			continue
		}

		wait := r.Expires(time.Now())
		if until := time.Until(nextDemo); until < wait {
			wait = until
		}
		if wait < 0 {
			wait = 0
		}
		timeoutMs := int(wait / time.Millisecond)
		if timeoutMs > 1000 {
			timeoutMs = 1000
		}

		n, err := unix.EpollWait(epfd, events, timeoutMs)
		if err != nil && err != unix.EINTR {
			return fmt.Errorf("epoll_wait: %w", err)
		}
		_ = n
		pushSnapshot(r, apiSrv)
	}
}

func issueDemoLookups(r *madns.Resolver, names []string, now time.Time, logger *slog.Logger) {
	for _, name := range names {
		if ip, ok := r.Lookup(name, now); ok {
			logger.Debug("cache hit", "name", name, "ip", ipString(ip))
			continue
		}
		if r.Ready() <= 0 {
			logger.Warn("query table full, skipping", "name", name)
			continue
		}
		if _, err := r.Request(name, name, now); err != nil {
			logger.Warn("request failed", "name", name, "err", err)
		}
	}
}

func ipString(ip net.IP) string {
	if ip == nil {
		return "NXDOMAIN"
	}
	return ip.String()
}

func pushSnapshot(r *madns.Resolver, apiSrv *api.Server) {
	if apiSrv == nil {
		return
	}
	data := r.DumpData()
	servers := make([]handlers.ServerStat, 0, len(data.Servers))
	for _, s := range data.Servers {
		servers = append(servers, handlers.ServerStat{IP: s.IP, InFlight: s.InFlight, Latency: s.Latency})
	}
	apiSrv.Handler().Update(handlers.Snapshot{
		Ready:        data.Summary.Ready,
		Active:       data.Summary.Active,
		CacheEntries: data.Summary.CacheEntries,
		Servers:      servers,
		Dump:         data,
	})
}
