package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cic-sync/internal/app"
	"cic-sync/internal/auth"
	"cic-sync/internal/config"
	"cic-sync/internal/lessoncrypt"
	"cic-sync/internal/logging"
	"cic-sync/internal/metrics"
	"cic-sync/internal/prefs"
	"cic-sync/internal/session"
	transport "cic-sync/internal/transport/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is reported to the preference store on startup.
var Version = "dev"

// NewStartCmd builds the CLI subcommand to start the WebSocket bridge.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the lesson sync bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Mode, cfg.Log.File)
	defer func() { _ = log.Sync() }()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	backend, closeBackend, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Warn("close local storage", zap.Error(err))
		}
	}()

	tokens := tokenIssuer(cfg)
	remote, closeRemote, err := openRemote(ctx, cfg, tokens, log)
	if err != nil {
		return err
	}
	defer closeRemote()

	deriver := lessoncrypt.NewDeriver(cfg.Crypto.Secret, cfg.Crypto.Salt, cfg.Crypto.Iterations)
	if cfg.Crypto.Secret == "" {
		log.Warn("crypto.secret not set; using the built-in development secret")
	}

	global := prefs.New(session.NewManager(backend, log).GlobalStore())
	if global.RecordVersion(ctx, Version) {
		log.Info("new application version", zap.String("version", Version))
	}

	stats := metrics.New()
	factory := func(onRemoteError func(string, error)) transport.Runtime {
		sessions := session.NewManager(backend, log).WithMetrics(stats)
		identity := auth.NewStaticIdentity("", "", tokens)
		orch := app.NewOrchestrator(sessions, remote, deriver, app.Options{
			FolderID:      cfg.Remote.FolderID,
			ProgressFiles: cfg.Remote.ProgressFiles,
			Debounce:      config.Duration(cfg.Remote.Debounce, app.DefaultDebounce),
			Logger:        log,
			Identity:      identity,
			Metrics:       stats,
			OnRemoteError: onRemoteError,
		})
		return transport.Runtime{
			Sessions:     sessions,
			Orchestrator: orch,
			Prefs:        prefs.New(sessions.GlobalStore()),
			Identity:     identity,
		}
	}
	wsHandler := transport.NewWSHandler(factory, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	stats.Register(registry)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting lesson sync bridge", zap.String("port", finalPort), zap.String("remote", cfg.Remote.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
