package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/dataform-runner/internal/api"
	"github.com/seantiz/dataform-runner/internal/manager"
	"github.com/seantiz/dataform-runner/internal/notify"
	"github.com/seantiz/dataform-runner/internal/scheduler"
	"github.com/seantiz/dataform-runner/internal/store"
)

// shutdownGrace is added to the drain timeout to bound the whole shutdown.
const shutdownGrace = 30 * time.Second

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, workflow manager and schedules",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("dfrun: starting",
		"version", version,
		"repository", cfg.Workflow().RepoURI(),
		"branch", cfg.Dataform.GitBranch,
		"listen_addr", cfg.Server.ListenAddr,
		"db_path", cfg.Store.Path,
	)

	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer db.Close()

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.Notify.AMQPURL != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange, logger)
		if err != nil {
			return err
		}
		defer amqpNotifier.Close()
		notifiers = append(notifiers, amqpNotifier)
	}
	notifier := notify.NewMultiNotifier(notifiers...)

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}

	settings := cfg.ManagerSettings()
	settings.Service = svc
	settings.Store = db
	settings.Notifier = notifier
	settings.Logger = logger
	mgr := manager.New(settings)

	sched, err := scheduler.New(cfg.SchedulerSchedules(), mgr, logger)
	if err != nil {
		return err
	}

	opts := api.Options{
		Addr:        cfg.Server.ListenAddr,
		CORSOrigins: cfg.Server.CORSOrigins,
	}
	if len(cfg.Schedules) > 0 {
		opts.Schedules = sched
	}
	srv := api.NewServer(opts, mgr, svc, db, logger)

	// The manager loops must outlive the signal so that draining can still
	// observe completions; Shutdown stops them.
	background := context.WithoutCancel(ctx)
	mgr.Start(background)
	sched.Start(background)

	drain := settings.DrainTimeout
	if drain <= 0 {
		drain = manager.DefaultDrainTimeout
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("draining workflow manager", "timeout", drain)

		shutdownCtx, cancel := context.WithTimeout(background, drain+shutdownGrace)
		defer cancel()

		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("stop scheduler", "error", err)
		}
		return mgr.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("dfrun: stopped")
	return nil
}
