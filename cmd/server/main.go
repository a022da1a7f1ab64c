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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/config"
	"github.com/Jason198341/seatcon-sub001/internal/httpapi"
	"github.com/Jason198341/seatcon-sub001/internal/room"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
	"github.com/Jason198341/seatcon-sub001/internal/storage"
	"github.com/Jason198341/seatcon-sub001/internal/ws"
)

// memoryDBURL selects the in-process store instead of postgres.
const memoryDBURL = "memory"

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger); err != nil {
		securelog.Error(logger, "server.run", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, dbURL string, logger *zap.Logger) (storage.Store, error) {
	if dbURL == memoryDBURL {
		logger.Warn("using in-memory store; history is lost on restart")
		return storage.NewMemoryStore(), nil
	}
	return storage.NewPostgresStore(ctx, dbURL, logger)
}

func run(logger *zap.Logger) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := openStore(storeCtx, cfg.DBURL, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, store, logger)
}

// serve migrates store and runs the HTTP server until ctx is done. The store
// is closed on return.
func serve(ctx context.Context, cfg config.ServerConfig, store storage.Store, logger *zap.Logger) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	migrateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	hub := ws.NewHub(cfg.ServiceKey, logger)
	go hub.Run(ctx)

	rooms := room.NewService(store.Messages(), hub)
	api := httpapi.NewHandler(rooms, cfg.ServiceKey, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newMux(api, hub),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			logger.Info("listening with TLS", zap.String("addr", cfg.ListenAddr))
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}

		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func newMux(api *httpapi.Handler, hub *ws.Hub) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "seatcon",
			Name:      "ws_subscribers",
			Help:      "Open realtime feed connections.",
		}, func() float64 { return float64(hub.ClientCount()) }),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	api.Register(mux)
	return mux
}
