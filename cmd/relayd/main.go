// relayd is the real-time relay server: it authenticates websocket clients,
// bridges backend events from redis and fans them out to connected users.
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

	"github.com/relaychat/relaychat/internal/config"
	"github.com/relaychat/relaychat/internal/server"
	"github.com/relaychat/relaychat/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:          "relayd",
		Short:        "RelayChat real-time relay server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer log.Sync()

	hub := server.NewHub(log)
	handler := server.NewHandler(hub, cfg.JWTSecret, cfg.AllowOrigins, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The relay still serves typing and presence without redis; backend
	// events simply do not flow until it comes back.
	bridge, err := server.NewBridge(cfg.RedisURL, hub, log)
	if err != nil {
		log.Warn("redis unavailable, backend events disabled", zap.Error(err))
	} else {
		defer bridge.Close()
		go bridge.Run(ctx)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	hub.Shutdown()

	log.Info("relay stopped")
	return nil
}
