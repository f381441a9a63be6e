package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tunnel-reaper/config"
	"tunnel-reaper/discovery"
	"tunnel-reaper/logging"
	"tunnel-reaper/metrics"
	"tunnel-reaper/middleware"
	"tunnel-reaper/orchestrator"
	"tunnel-reaper/registry"
	"tunnel-reaper/scheduler"
)

type globalFlags struct {
	config   string
	logLevel string
	json     bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "tunnel-reaper",
		Short: "Deregister orchestrator jobs of ended tunnel sessions",
		Long: `tunnel-reaper keeps the sandbox jobs running on Nomad in line with the
recorded tunnel sessions. Jobs whose session is over or missing are
deregistered; failed deregistrations are retried every two hours.

The Nomad agent is addressed directly (SEA_HOST) or, with APP_ENV=production,
found through DNS SRV records on the resolver given by DNS_ADDR.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&flags.json, "json", false, "log as JSON")

	cmd.AddCommand(
		newServeCmd(flags),
		newSweepCmd(flags),
		newCleanupCmd(flags),
		newResolveCmd(flags),
	)
	return cmd
}

// app holds the wired components shared by the subcommands.
type app struct {
	cfg       config.Config
	log       *zap.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	discovery *discovery.Client
	connector *orchestrator.Connector
	sessions  registry.Store
	closers   []io.Closer
}

func (f *globalFlags) load(stderr io.Writer) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, nil, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.json {
		cfg.LogJSON = true
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogJSON, stderr)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

func newApp(f *globalFlags, stderr io.Writer) (*app, error) {
	cfg, log, err := f.load(stderr)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	dcfg, err := cfg.Discovery()
	if err != nil {
		return nil, err
	}
	dcfg.OnLookup = m.ObserveLookup
	dc := discovery.NewClient(dcfg, log.Named("discovery"))

	conn, err := orchestrator.NewConnector(orchestrator.ConnectorOptions{
		Addressing:        cfg.Addressing(),
		Resolver:          dc,
		Port:              cfg.Nomad.Port,
		UseDiscoveredPort: cfg.Nomad.UseDiscoveredPort,
		Nomad: orchestrator.NomadOptions{
			Token:     cfg.Nomad.Token,
			Namespace: cfg.Nomad.Namespace,
			Region:    cfg.Nomad.Region,
			Timeout:   cfg.Nomad.Timeout,
		},
		Middlewares: gatewayMiddlewares(cfg.Nomad, log.Named("nomad")),
		Logger:      log.Named("connector"),
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		metrics:   m,
		discovery: dc,
		connector: conn,
	}

	switch cfg.Registry.Backend {
	case "etcd":
		er, err := registry.NewEtcdRegistry(registry.EtcdOptions{
			Endpoints:   cfg.Registry.Endpoints,
			DialTimeout: cfg.Registry.DialTimeout,
			Prefix:      cfg.Registry.Prefix,
			Retention:   cfg.Registry.Retention,
		})
		if err != nil {
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		a.sessions = er
		a.closers = append(a.closers, er)
	default:
		a.sessions = registry.NewMemRegistry()
	}

	log.Debug("config loaded",
		zap.String("addressing", cfg.Addressing().String()),
		zap.String("resolver", cfg.DNS.Resolver),
		zap.String("priority_order", cfg.DNS.PriorityOrder),
		zap.String("registry", cfg.Registry.Backend))
	return a, nil
}

// gatewayMiddlewares orders the chain outermost first: one log line per
// call, then the process-wide rate limit, then in-call retries of
// individually bounded tries.
func gatewayMiddlewares(cfg config.NomadConfig, log *zap.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(log)}
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit, cfg.Burst))
	}
	if cfg.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.Retries, cfg.RetryBaseDelay, orchestrator.IsTransient, log))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Timeout))
	}
	return mws
}

func (a *app) scheduler(q scheduler.Queue) (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Options{
		Connector:    a.connector,
		Sessions:     a.sessions,
		Queue:        q,
		JobClass:     a.cfg.Scheduler.JobClass,
		RetryDelay:   a.cfg.Scheduler.RetryDelay,
		Interval:     a.cfg.Scheduler.Interval,
		Jitter:       a.cfg.Scheduler.Jitter,
		SweepTimeout: a.cfg.Scheduler.SweepTimeout,
		Logger:       a.log.Named("scheduler"),
		Metrics:      a.metrics,
		OnTransition: func(t scheduler.Task) {
			a.log.Debug("task transition",
				zap.String("job_id", t.JobID),
				zap.Stringer("state", t.State),
				zap.Int("attempt", t.Attempt),
				zap.Time("due_at", t.DueAt))
		},
	})
}

// checkSweepable refuses deregistering sweeps against the memory registry,
// which holds no sessions and would mark every job orphaned.
func (a *app) checkSweepable(force bool) error {
	if force || a.cfg.Registry.Backend != "memory" {
		return nil
	}
	return errors.New("the memory registry has no sessions, so every job would be deregistered; configure etcd or pass --force")
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

// runDue executes the zero-delay tasks recorded by q once, each bounded by
// the task timeout. Retries land back in q with their delay and are dropped:
// the next sweep finds their jobs again.
func (a *app) runDue(ctx context.Context, s *scheduler.Scheduler, q *scheduler.ListQueue) (done, failed []string) {
	for _, e := range q.Drain() {
		if e.Delay > 0 {
			continue
		}
		tctx, cancel := context.WithTimeout(ctx, a.cfg.Scheduler.TaskTimeout)
		err := s.Cleanup(tctx, e.Task)
		cancel()
		if err != nil {
			failed = append(failed, e.Task.JobID)
			continue
		}
		done = append(done, e.Task.JobID)
	}
	return done, failed
}
