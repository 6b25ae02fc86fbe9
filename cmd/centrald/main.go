// Command centrald is the central management service for a fleet of EV DC
// charging stations: it terminates OCPP 1.6J over WebSocket, exposes the
// control-plane HTTP API, and runs the operator console.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocx/evcentral/internal/config"
	"github.com/ocx/evcentral/internal/console"
	"github.com/ocx/evcentral/internal/httpapi"
	"github.com/ocx/evcentral/internal/metrics"
	"github.com/ocx/evcentral/internal/orchestrator"
	"github.com/ocx/evcentral/internal/registry"
	"github.com/ocx/evcentral/internal/vid"
	"github.com/ocx/evcentral/internal/wallet"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "centrald",
	Short:         "EV charge-point central management service",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default: CONFIG_PATH env or ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if cfgPath != "" {
		os.Setenv("CONFIG_PATH", cfgPath)
	}
	cfg := config.Get()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	vidResolver := vid.New()
	walletSvc := wallet.New()
	reg := registry.New()
	m := metrics.New()

	hub := orchestrator.New(vidResolver, walletSvc, reg, cfg, m, logger)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ocpp/", hub.ServeWS)
	wsServer := &http.Server{
		Addr:         ":" + cfg.Server.WSPort,
		Handler:      wsMux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	apiServer := httpapi.New(hub, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsErr := make(chan error, 1)
	go func() {
		logger.Info("ocpp websocket listening", "addr", wsServer.Addr)
		err := wsServer.ListenAndServe()
		if err == http.ErrServerClosed {
			err = nil
		}
		wsErr <- err
	}()

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- apiServer.ListenAndServe()
	}()

	go console.New(hub, os.Stdout, logger).Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-wsErr:
		if err != nil {
			logger.Error("websocket server failed", "error", err)
		}
	case err := <-apiErr:
		if err != nil {
			logger.Error("http api server failed", "error", err)
		}
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("websocket server shutdown error", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http api server shutdown error", "error", err)
	}

	logger.Info("centrald stopped")
	return nil
}
