package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shortstudio/studio-agent/internal/api"
	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/playback"
	"github.com/shortstudio/studio-agent/internal/ui"
	"github.com/shortstudio/studio-agent/internal/watcher"
)

func runServe(cmd *cobra.Command, flags *rootFlags) error {
	startTime := time.Now()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg, logger := a.cfg, a.logger
	logger.Info("starting studio agent",
		"version", Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"remote", cfg.RemoteURL())

	authToken, err := ensureAuthToken(ctx, a.repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "╔═══════════════════════════════════════════════════════════╗")
	fmt.Fprintf(out, "║                  SHORT STUDIO AGENT v%-21s║\n", Version)
	fmt.Fprintln(out, "╠═══════════════════════════════════════════════════════════╣")
	fmt.Fprintf(out, "║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Fprintf(out, "║  Auth Token: %-45s ║\n", authToken)
	fmt.Fprintf(out, "║  Job server: %-45s ║\n", cfg.RemoteURL())
	fmt.Fprintln(out, "╚═══════════════════════════════════════════════════════════╝")
	fmt.Fprintln(out)

	outputs := playback.NewOutputServer(func() string {
		return a.session.Settings().OutputPath
	}, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:      cfg.Port(),
		Studio:    a.session,
		Tokens:    a.repo,
		Outputs:   outputs,
		Logger:    logger,
		StartTime: startTime,
		Version:   Version,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	if dir := cfg.InboxDir(); dir != "" {
		inbox, err := watcher.New(dir, a.session, logger, watcher.Options{})
		if err != nil {
			return fmt.Errorf("failed to start batch inbox: %w", err)
		}
		defer inbox.Stop()
		go inbox.Watch(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	quitCh := make(chan struct{})
	quit := sync.OnceFunc(func() { close(quitCh) })

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			quit()
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			Controller: a.session,
			Logger:     logger,
			OnQuit:     quit,
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
