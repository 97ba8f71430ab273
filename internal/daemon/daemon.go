// Package daemon wires together every control-plane subsystem into the
// boot sequence from spec.md section 2 ("Flow"): load config, open the
// token store, start the docker-events watcher, prime the runtime cache,
// open the local Unix-socket server, and — if at least one registered
// project has opted in — open the public Gateway TCP server. Grounded on
// the teacher's cmd/warren/main.go sequencing (start raft, then
// membership, then the gRPC server), re-expressed for a single-process
// daemon with no cluster bootstrap.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hack-dance/hackd/internal/audit"
	"github.com/hack-dance/hackd/internal/config"
	"github.com/hack-dance/hackd/internal/dockerevents"
	"github.com/hack-dance/hackd/internal/gateway"
	"github.com/hack-dance/hackd/internal/httpapi"
	"github.com/hack-dance/hackd/internal/metrics"
	"github.com/hack-dance/hackd/internal/paths"
	"github.com/hack-dance/hackd/internal/registry"
	"github.com/hack-dance/hackd/internal/runtimecache"
	"github.com/hack-dance/hackd/internal/streambridge"
	"github.com/hack-dance/hackd/internal/token"
	"github.com/rs/zerolog"
)

// Daemon owns every long-lived subsystem and the two HTTP listeners
// (local Unix socket, optional TCP gateway).
type Daemon struct {
	logger zerolog.Logger
	paths  *paths.Paths

	registry  *registry.Registry
	cache     *runtimecache.Cache
	watcher   *dockerevents.Watcher
	tokens    *token.Store
	audit     *audit.Log
	metrics   *metrics.Collector
	bridge    *streambridge.Bridge
	gatewayFn *gateway.Gateway

	localListener net.Listener
	localServer   *http.Server

	gatewayListener net.Listener
	gatewayServer   *http.Server
}

// Boot runs the full startup sequence and returns a running Daemon.
// version is reported at GET /v1/status so clients can compare it
// against their own and skip the daemon on mismatch (spec.md section 6).
func Boot(logger zerolog.Logger, version string) (*Daemon, error) {
	p, err := paths.Resolve()
	if err != nil {
		return nil, fmt.Errorf("daemon: resolve paths: %w", err)
	}

	globalDoc, err := config.Load(p.GlobalConfig)
	if err != nil {
		return nil, fmt.Errorf("daemon: load global config: %w", err)
	}
	effective := config.Merge(globalDoc, config.Document{})

	reg, err := registry.New(p.ProjectsRegistry)
	if err != nil {
		return nil, fmt.Errorf("daemon: open registry: %w", err)
	}

	tokens, err := token.New(p.TokensFile)
	if err != nil {
		return nil, fmt.Errorf("daemon: open token store: %w", err)
	}
	auditLog := audit.New(p.AuditFile)

	cache := runtimecache.New(logger, runtimecache.DockerComposeEnumerator, reg, nil)

	watcher := dockerevents.New(logger, func(dockerevents.Event) {
		cache.OnDockerEvent()
	}, "", nil)
	watcher.Start()

	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cache.Startup(startupCtx); err != nil {
		logger.Warn().Err(err).Msg("initial runtime cache refresh failed")
	}

	bridge := streambridge.New(logger)
	startedAt := time.Now()
	metricsCollector := metrics.NewCollector(startedAt, func() metrics.CacheStats {
		s := cache.StatsSnapshot()
		return metrics.CacheStats{
			CacheUpdatedAtMs: s.CacheUpdatedAtMs,
			LastRefreshAt:    s.LastRefreshAt,
			RefreshCount:     s.RefreshCount,
			RefreshFailures:  s.RefreshFailures,
			LastEventAt:      s.LastEventAt,
			EventsSeen:       s.EventsSeen,
		}
	}, bridge.ActiveStreams)
	metricsCollector.Start()

	runtimes := httpapi.NewRuntimes(logger, reg, effective.Supervisor.MaxConcurrentJobs)
	deps := httpapi.Deps{
		Logger:    logger,
		Cache:     cache,
		Runtimes:  runtimes,
		Metrics:   metricsCollector,
		Version:   version,
		StartedAt: startedAt,
	}
	router := httpapi.NewRouter(deps, bridge.Wire)

	d := &Daemon{
		logger:   logger,
		paths:    p,
		registry: reg,
		cache:    cache,
		watcher:  watcher,
		tokens:   tokens,
		audit:    auditLog,
		metrics:  metricsCollector,
		bridge:   bridge,
	}

	if err := d.startLocalServer(router); err != nil {
		return nil, err
	}

	enabledProjects, allowWrites := resolveGatewayConfig(logger, reg, globalDoc)
	if len(enabledProjects) > 0 {
		gw := gateway.New(logger, tokens, auditLog, gateway.Config{
			AllowWrites:     allowWrites,
			EnabledProjects: enabledProjects,
		}, router)
		d.gatewayFn = gw
		if err := d.startGatewayServer(gw, effective.GatewayBind, effective.GatewayPort); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// resolveGatewayConfig computes the enabledProjects set described in
// spec.md section 4.11: readProjectsRegistry() x per-project
// gateway.enabled, merged against the global document.
func resolveGatewayConfig(logger zerolog.Logger, reg *registry.Registry, globalDoc config.Document) (map[string]bool, bool) {
	enabled := map[string]bool{}

	projects, err := reg.List()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to list registered projects for gateway enablement")
		return enabled, globalDoc.Gateway.AllowWrites
	}

	for _, p := range projects {
		projectDoc, err := config.Load(paths.ProjectConfig(p.ProjectDir))
		if err != nil {
			logger.Warn().Err(err).Str("project", p.ProjectID).Msg("failed to load project config")
			continue
		}
		eff := config.Merge(globalDoc, projectDoc)
		if eff.GatewayEnabled {
			enabled[p.ProjectID] = true
		}
	}

	return enabled, globalDoc.Gateway.AllowWrites
}

func (d *Daemon) startLocalServer(handler http.Handler) error {
	os.Remove(d.paths.Socket)
	ln, err := net.Listen("unix", d.paths.Socket)
	if err != nil {
		return fmt.Errorf("daemon: listen on local socket: %w", err)
	}
	d.localListener = ln
	d.localServer = &http.Server{Handler: handler}
	go func() {
		if err := d.localServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("local server stopped")
		}
	}()
	return nil
}

func (d *Daemon) startGatewayServer(handler http.Handler, bind string, port int) error {
	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen on gateway address %s: %w", addr, err)
	}
	d.gatewayListener = ln
	d.gatewayServer = &http.Server{Handler: handler}
	go func() {
		if err := d.gatewayServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error().Err(err).Msg("gateway server stopped")
		}
	}()
	return nil
}

// Shutdown stops the watcher, closes both listeners, and removes the
// socket and pid files, per spec.md section 5 ("on daemon shutdown").
// Running jobs receive no explicit cancel; their on-disk state remains
// consistent for post-mortem inspection.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.watcher.Stop()
	d.metrics.Stop()

	if d.localServer != nil {
		d.localServer.Shutdown(ctx)
	}
	if d.gatewayServer != nil {
		d.gatewayServer.Shutdown(ctx)
	}

	os.Remove(d.paths.Socket)
	os.Remove(d.paths.PidFile)
	return nil
}

// WritePidFile persists the current process id, per spec.md section 6.
func (d *Daemon) WritePidFile() error {
	return os.WriteFile(d.paths.PidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

// Paths exposes the daemon's resolved on-disk paths.
func (d *Daemon) Paths() *paths.Paths { return d.paths }
