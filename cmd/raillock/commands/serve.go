package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/raillock/raillock/internal/config"
	"github.com/raillock/raillock/internal/mcp"
	"github.com/raillock/raillock/internal/store"
	"github.com/raillock/raillock/internal/web"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review HTTP API for one server",
		RunE:  runServe,
	}
	addServerFlags(cmd)
	cmd.Flags().String("host", "", "Listen host (default web.host)")
	cmd.Flags().Int("port", 0, "Listen port (default web.port)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := resolveServer(cmd, cfg)
	if err != nil {
		return err
	}
	if host := flagString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if cmd != nil {
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Web.Port = port
		}
	}

	svc := newWebService(cfg, target)
	// A failed warm-up is retried by the first request that needs tools.
	if snap, err := svc.Refresh(ctx); err != nil {
		slog.Warn("initial inventory load failed", "server", target.Raw, "error", err)
	} else {
		slog.Info("inventory ready", "server", snap.ServerName, "tools", len(snap.Tools))
	}

	server := web.New(cfg.Web, svc)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("web server failed: %w", err)
		}
	}()

	fmt.Printf("Raillock API for %s running at http://%s\nPress Ctrl+C to stop.\n", target.Raw, server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("web server failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("web server shutdown failed", "error", err)
	}
	return runErr
}

func newWebService(cfg *config.Config, target mcp.Target) *web.Service {
	return web.NewService(web.ServiceOptions{
		Loader: newInventoryLoader(cfg),
		Target: target,
		Store: store.New(store.Options{
			Dir:         cfg.Output.Dir,
			DefaultName: strings.TrimSpace(cfg.Output.Filename),
			Confined:    true,
		}),
		Audit:  newAuditRecorder(cfg),
		Logger: slog.Default(),
	})
}
