package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/bundle-store/internal/config"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API.

The schema is applied on start, the download token sweep is scheduled and,
with EVENTS_ENABLED=true, the purchase-log consumer is started.  SIGINT or
SIGTERM drains in-flight requests before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.tokens.Start(); err != nil {
		return err
	}

	consumerDone := make(chan struct{})
	if a.consumer != nil {
		go func() {
			defer close(consumerDone)
			if err := a.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("purchase log consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
	}

	addr := ":" + cfg.Port
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		if err != nil {
			stop()
			<-a.tokens.Stop().Done()
			return err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	select {
	case <-a.tokens.Stop().Done():
	case <-shutdownCtx.Done():
	}
	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
	}
	log.Info().Msg("server stopped")
	return nil
}
