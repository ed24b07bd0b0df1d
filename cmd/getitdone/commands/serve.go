package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slyt3/GetItDone/internal/api"
	"github.com/slyt3/GetItDone/internal/config"
	"github.com/slyt3/GetItDone/internal/logging"
	"github.com/slyt3/GetItDone/internal/notify"
	"github.com/slyt3/GetItDone/internal/policy"
)

const readHeaderTimeout = 10 * time.Second

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, o.cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	pol, err := policy.NewEngine(cfg.Policy.Path)
	if err != nil {
		return fmt.Errorf("loading policy: %w", err)
	}
	if cfg.Policy.Watch {
		if err := pol.Watch(ctx); err != nil {
			return err
		}
	}
	defer pol.Stop()
	logging.Info("policy_loaded", logging.Fields{Component: "cli", Method: pol.Version(), Amount: int64(pol.RuleCount())})

	dispatcher, err := newDispatcher(cfg.Notify)
	if err != nil {
		return err
	}
	dispatcher.Start()
	defer func() {
		if err := dispatcher.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			logging.Warn("dispatcher_shutdown_failed", logging.Fields{Component: "cli", Error: err.Error()})
		}
	}()

	rt, err := openRuntime(cfg, dispatcher, pol)
	if err != nil {
		return err
	}
	defer rt.Close()

	reports, err := rt.engine.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	for _, rep := range reports {
		logging.Error("startup_reconcile_mismatch", logging.Fields{Component: "cli", TaskID: rep.TaskID, Error: rep.Error})
	}

	handlers := api.NewHandlers(api.Options{
		Engine:     rt.engine,
		Dispatcher: dispatcher,
		Rotator:    rt.signer,
		KeyPath:    cfg.Signing.KeyPath,
		AdminToken: cfg.Server.AdminToken,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("server_listening", logging.Fields{Component: "cli", Method: cfg.Server.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logging.Info("server_shutting_down", logging.Fields{Component: "cli"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func newDispatcher(cfg config.Notify) (*notify.Dispatcher, error) {
	var sink notify.Sink = notify.LogSink{}
	if cfg.WebhookURL != "" {
		sink = notify.MultiSink{notify.LogSink{}, notify.NewWebhookSink(cfg.WebhookURL)}
	}
	d, err := notify.NewDispatcher(cfg.BufferSize, sink)
	if err != nil {
		return nil, err
	}
	mode := notify.BackpressureDrop
	if cfg.Backpressure == "block" {
		mode = notify.BackpressureBlock
	}
	if err := d.SetBackpressureMode(mode); err != nil {
		return nil, err
	}
	return d, nil
}
