package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tunnel-reaper/admin"
	"tunnel-reaper/scheduler"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cleanup workers, periodic sweeps and the admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.checkSweepable(force); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "sweep even with the memory session registry")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	log := a.log

	if a.cfg.Registry.Backend == "memory" {
		log.Warn("forced sweeps against the memory session registry; every job counts as orphaned")
	}

	queue := scheduler.NewMemQueue(scheduler.MemQueueOptions{
		Workers: a.cfg.Scheduler.Workers,
		Timeout: a.cfg.Scheduler.TaskTimeout,
		Logger:  log.Named("queue"),
		Metrics: a.metrics,
	})
	sched, err := a.scheduler(queue)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr: a.cfg.Listen,
		Handler: admin.NewHandler(admin.Options{
			Reaper:       sched,
			Gatherer:     a.registry,
			SweepTimeout: a.cfg.Scheduler.SweepTimeout,
			Logger:       log.Named("admin"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(ctx, sched.Cleanup)
	})
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info("tunnel-reaper listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
