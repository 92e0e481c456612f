// Triagehub worker: claims pending tickets off the shared queue, runs the AI
// classifier, and publishes update events onto the bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/triagehub/internal/bus/redisbus"
	tc "github.com/linnemanlabs/triagehub/internal/cfg"
	"github.com/linnemanlabs/triagehub/internal/classifier"
	"github.com/linnemanlabs/triagehub/internal/llm/claude"
	"github.com/linnemanlabs/triagehub/internal/pipeline"
	"github.com/linnemanlabs/triagehub/internal/postgres"
	"github.com/linnemanlabs/triagehub/internal/queue/redisq"
	"github.com/linnemanlabs/triagehub/internal/ticket"
	"github.com/linnemanlabs/triagehub/internal/ticket/pgstore"
)

const appName = "triagehub"
const component = "worker"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Set app name and component
	v.AppName = appName
	v.Component = component

	// Get build/version info
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg   tc.Config
		logCfg   log.Config
		opsCfg   opshttp.Config
		profCfg  prof.Config
		traceCfg otelx.Config
	)

	// register flags for each package, which will be parsed into the shared config struct
	appCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// parse flags to get config values from cmdline, we check env vars next which do not override cmdline flags
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Fill in config values from environment variables with prefix TRIAGEHUB_,
	// these do not override cmdline flags
	cfg.FillFromEnv(flag.CommandLine, "TRIAGEHUB_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate: a standalone worker
	// shares state with the server solely through postgres and redis, so the
	// in-process fallbacks the server offers make no sense here.
	if appCfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the worker")
	}
	if appCfg.RedisURL == "" {
		return errors.New("REDIS_URL is required for the worker")
	}

	// initialize logger early
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer func() { _ = lg.Sync() }()

	// create a logger with component field pre-filled for structured logging in this package
	L := lg.With("component", vi.Component)

	// add logger to context
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"worker_count", appCfg.WorkerCount,
		"triage_max_attempts", appCfg.TriageMaxAttempts,
	)

	// Setup pyroscope profiling early so we get profiles from the entire app lifetime
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	// Start profiling, returns a stop function to call for clean shutdown (flush buffers, etc)
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}

	// Setup otel for tracing
	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	// Start otel, returns a shutdown function to call for clean shutdown (flush buffers, etc)
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}

	// Setup metrics, we use our own metrics package for internal instrumentation
	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Triage metrics on the shared Prometheus registry.
	ticketMetrics := ticket.NewMetrics(m.Registry())

	// Postgres-backed ticket store.
	pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	defer pool.Close()
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		return fmt.Errorf("pgstore init: %w", err)
	}

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triagehub_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Redis queue and event bridge.
	redisOpts, err := redis.ParseURL(appCfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Not fatal: Dequeue retries, and redis may still be coming up.
		L.Warn(ctx, "redis ping failed", "error", err)
	}
	cancelPing()

	triageQueue := redisq.New(redisClient)
	publisher := redisbus.New(redisClient, L, ticketMetrics)

	// Claude-backed classifier.
	provider := claude.New(appCfg.ClaudeAPIKey, appCfg.ClaudeModel)
	L.Info(ctx, "initialized LLM provider", "provider", "claude", "model", appCfg.ClaudeModel)

	triager, err := classifier.New(provider, classifier.Options{
		Timeout: time.Duration(appCfg.TriageTimeoutSeconds) * time.Second,
		Logger:  L,
		Metrics: ticketMetrics,
	})
	if err != nil {
		return fmt.Errorf("classifier init: %w", err)
	}

	pipe, err := pipeline.New(store, triager, publisher, triageQueue, pipeline.Options{
		MaxAttempts: appCfg.TriageMaxAttempts,
		RetryDelay:  time.Duration(appCfg.TriageRetryDelaySeconds) * time.Second,
		Workers:     appCfg.WorkerCount,
		Logger:      L,
		Metrics:     ticketMetrics,
	})
	if err != nil {
		return fmt.Errorf("pipeline init: %w", err)
	}

	// setup toggle for shutdown. readiness flips false once we start draining.
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	// Configure ops http server for metrics, health checks, pprof, etc
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	// Run the worker pool. Run returns once ctx is cancelled and every
	// in-flight job has finished or failed cleanly.
	pipeCtx, cancelPipe := context.WithCancel(ctx)
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		pipe.Run(pipeCtx)
	}()
	L.Info(ctx, "triage pipeline started", "workers", appCfg.WorkerCount)

	// Notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// Wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")
	shutdownGate.Set("draining")

	// Let in-flight triage jobs complete within the shutdown budget.
	cancelPipe()
	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	select {
	case <-pipeDone:
		L.Info(context.Background(), "pipeline drained")
	case <-time.After(budget):
		L.Warn(context.Background(), "pipeline drain exceeded shutdown budget", "budget_seconds", appCfg.ShutdownBudgetSeconds)
	}

	// Shutdown remaining components with per-component budget sliced from total.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"ops http server", opsHTTPStop},
	}
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	perComponent := budget / time.Duration(len(stopFns))
	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
