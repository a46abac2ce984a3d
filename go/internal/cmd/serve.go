package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mcdev12/racesync/go/internal/multiplayer/gateway"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the race gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadServeConfig()
			if port, _ := cmd.Flags().GetString("port"); port != "" {
				cfg.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("port", "", "listen port (overrides PORT)")
	return cmd
}

func gatewayConfig(cfg ServeConfig) gateway.Config {
	gc := gateway.DefaultConfig()
	gc.ConnectionConfig.CheckOrigin = gateway.OriginChecker(cfg.AllowedOrigins)
	gc.ConnectionConfig.SendBufferSize = cfg.SendBufferSize
	gc.ConnectionConfig.PingInterval = cfg.PingInterval
	gc.EventQueueSize = cfg.EventQueueSize
	if cfg.NATSURL != "" {
		gc.EventsEnabled = true
		gc.JetStreamConfig.URL = cfg.NATSURL
	}
	return gc
}

func runServe(parent context.Context, cfg ServeConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := gateway.NewService(ctx, gatewayConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create gateway service: %w", err)
	}
	server := setupServer(cfg, svc)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("room_events", cfg.NATSURL != "").
		Msg("starting race gateway")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(ctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("race gateway shutdown complete")
	return nil
}
