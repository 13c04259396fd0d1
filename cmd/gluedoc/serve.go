package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aretw0/lifecycle"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aretw0/gluedoc"
	"github.com/aretw0/gluedoc/internal/metrics"
	sessionevents "github.com/aretw0/gluedoc/pkg/adapters/lifecycle"
	"github.com/aretw0/gluedoc/pkg/catalog"
	"github.com/aretw0/gluedoc/pkg/relay"
	"github.com/aretw0/gluedoc/pkg/workspace"
)

var (
	serveAddr       string
	servePrefix     string
	serveNoAutosave bool
	serveWatch      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session relay and the advanced link catalog",
	Long: `Serve the workspace over HTTP:
  <prefix>/ws?session=<id>   websocket relay for live editing
  <prefix>/advanced-links    advanced link catalog
  /metrics                   Prometheus metrics`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		m := metrics.New()
		svc, cfg := openWorkspace(gluedoc.WithMetrics(m))

		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}
		if cmd.Flags().Changed("prefix") {
			cfg.Server.Prefix = servePrefix
		}
		prefix := strings.TrimSuffix(cfg.Server.Prefix, "/")
		autosave := cfg.Server.AutosaveEnabled() && !serveNoAutosave

		cat, err := serverCatalog(cfg.Catalog.File)
		if err != nil {
			fatal("Failed to load link catalog", err)
		}

		hub := relay.NewServer(svc,
			relay.WithServerLogger(slog.Default()),
			relay.WithServerMetrics(m),
			relay.WithAutosave(autosave),
		)

		mux := http.NewServeMux()
		mux.Handle(prefix+relay.Path, hub)
		mux.Handle(prefix+catalog.Path, catalog.NewHandler(cat, slog.Default()))
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveWatch {
			watchWorkspace(ctx, svc)
		}

		errCh := make(chan error, 1)
		lifecycle.Go(ctx, func(ctx context.Context) error {
			slog.Info("serving workspace", "addr", cfg.Server.Addr, "prefix", prefix, "autosave", autosave)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
			return nil
		})

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				fatal("Server failed", err)
			}
		}

		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			fatal("Failed to close workspace", err)
		}
	},
}

// watchWorkspace logs session files changed outside the server.
func watchWorkspace(ctx context.Context, svc *workspace.Service) {
	events, err := svc.Watch(ctx, "**/*")
	if err != nil {
		slog.Warn("workspace watch disabled", "error", err)
		return
	}
	src := sessionevents.NewSource(events)
	if err := src.Start(ctx); err != nil {
		slog.Warn("workspace watch disabled", "error", err)
		return
	}
	lifecycle.Go(ctx, func(ctx context.Context) error {
		for e := range src.Events() {
			slog.Info("workspace changed", "event", e.String())
		}
		return nil
	})
}

func serverCatalog(path string) (catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cat, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&servePrefix, "prefix", "", "URL prefix of the application endpoints")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Log session files changed by other programs")
	serveCmd.Flags().BoolVar(&serveNoAutosave, "no-autosave", false, "Do not save sessions when their last client leaves")
}
