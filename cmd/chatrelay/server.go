package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatrelay/internal/api"
	"github.com/kalambet/chatrelay/internal/config"
	"github.com/kalambet/chatrelay/internal/gemini"
	"github.com/kalambet/chatrelay/internal/metrics"
	"github.com/kalambet/chatrelay/internal/models"
	"github.com/kalambet/chatrelay/internal/proxy"
	"github.com/kalambet/chatrelay/internal/upstream"
)

const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat gateway (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// buildDeps wires the upstream provider, model registry and metrics from
// cfg. Metrics are only collected when withMetrics is set and enabled in
// the config.
func buildDeps(cfg config.Config, withMetrics bool) (api.Deps, error) {
	reg, err := models.Load(cfg.Models.File)
	if err != nil {
		return api.Deps{}, err
	}

	var provider upstream.Provider
	defaultModel := cfg.Upstream.DefaultModel
	switch cfg.Upstream.Provider {
	case config.ProviderGemini:
		provider = gemini.NewProvider(cfg.Upstream.BaseURL)
		if defaultModel == "" {
			defaultModel = gemini.DefaultModel
		}
	default:
		provider = proxy.NewProvider(cfg.Upstream.BaseURL, nil)
		if defaultModel == "" {
			defaultModel = proxy.DefaultModel
		}
	}

	var collector *metrics.Collector
	if withMetrics && cfg.Server.Metrics {
		collector = metrics.NewCollector("chatrelay")
	}

	return api.Deps{
		Models:      reg,
		Provider:    provider,
		Instruction: cfg.Instructions.Text,
		Generation: upstream.Generation{
			Temperature:     cfg.Generation.Temperature,
			TopP:            cfg.Generation.TopP,
			TopK:            cfg.Generation.TopK,
			MaxOutputTokens: cfg.Generation.MaxOutputTokens,
		},
		DefaultModel:   defaultModel,
		Metrics:        collector,
		CORSPermissive: cfg.Server.CORSPermissive,
	}, nil
}

func runServer(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	deps, err := buildDeps(cfg, true)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("chatrelay listening",
		"version", version,
		"addr", ln.Addr().String(),
		"provider", deps.Provider.Name(),
		"default_model", deps.DefaultModel,
		"models", len(deps.Models.All()),
		"metrics", deps.Metrics != nil,
	)

	return serve(ctx, srv, ln)
}

// serve runs srv on ln until ctx is done or the server fails, then shuts
// it down gracefully.
func serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func showStatus(ctx context.Context) error {
	cfg, err := config.LoadSettings()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient = &http.Client{Timeout: 2 * time.Second}

	if err := client.ping(ctx); err != nil {
		printWarning("chatrelay is not running at %s", client.baseURL)
		printStatus("Server", "stopped")
	} else {
		printStatus("Server", "running at %s", client.baseURL)
	}

	printStatus("Provider", "%s", cfg.Upstream.Provider)
	model := cfg.Upstream.DefaultModel
	if model == "" {
		model = "(provider default)"
	}
	printStatus("Default model", "%s", model)
	if cfg.Models.File != "" {
		printStatus("Models file", "%s", cfg.Models.File)
	}
	printStatus("Metrics", "%t", cfg.Server.Metrics)
	return nil
}

// drain discards the rest of r so the connection can be reused.
func drain(r io.ReadCloser) {
	io.Copy(io.Discard, r)
	r.Close()
}
