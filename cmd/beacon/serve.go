package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	router "github.com/dkeye/Beacon/internal/adapters/http"
	"github.com/dkeye/Beacon/internal/alert"
	"github.com/dkeye/Beacon/internal/app/auth"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the client with its local API and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	d, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close(context.Background())

	loader.Watch(func(next *config.Config) {
		config.ApplyLogLevel(next.LogLevel)
	})

	if _, err := d.auth.Restore(ctx); err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			log.Info().Msg("no stored session, sign in through the local api or `beacon login`")
		} else {
			log.Warn().Err(err).Msg("session restore failed")
		}
	}

	if err := d.realtime.Connect(ctx); err != nil {
		d.alerts.Raise(alert.New(alert.Network, "realtime.connect", err))
	}
	go superviseRealtime(ctx, d)

	r := router.SetupRouter(ctx, cfg, d.services)
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Beacon started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Beacon exited gracefully")
	return nil
}

// superviseRealtime reconnects the socket when it drops. Feature sessions on
// the dead socket are closed; the UI reopens them.
func superviseRealtime(ctx context.Context, d *deps) {
	backoff := time.Second
	for {
		done := d.realtime.Done()
		if done != nil {
			select {
			case <-ctx.Done():
				return
			case <-done:
			}
		}
		if ctx.Err() != nil {
			return
		}
		if u, err := d.auth.User(); err == nil {
			d.orch.CloseAll(ctx, u.ID)
		}
		log.Warn().Dur("backoff", backoff).Msg("realtime disconnected, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if err := d.realtime.Connect(ctx); err != nil {
			d.alerts.Raise(alert.New(alert.Network, "realtime.connect", fmt.Errorf("reconnect: %w", err)))
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second
	}
}
