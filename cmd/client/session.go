package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/backend"
	"github.com/Jason198341/seatcon-sub001/internal/chatsync"
	"github.com/Jason198341/seatcon-sub001/internal/config"
	"github.com/Jason198341/seatcon-sub001/internal/localstore"
	"github.com/Jason198341/seatcon-sub001/internal/metrics"
	"github.com/Jason198341/seatcon-sub001/internal/realtime"
	"github.com/Jason198341/seatcon-sub001/internal/translate"
)

// session owns everything a running client holds open.
type session struct {
	coord   *chatsync.Coordinator
	records localstore.Store
	metrics *http.Server
	logger  *zap.Logger
}

func dataDir(cfg config.ClientConfig) (string, error) {
	if cfg.DataDir != "" {
		return cfg.DataDir, nil
	}
	return localstore.DefaultDir()
}

// newLogger writes JSON logs to client.log under dir; the terminal belongs
// to the UI.
func newLogger(dir string) (*zap.Logger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	logPath := filepath.Join(dir, "client.log")
	zcfg.OutputPaths = []string{logPath}
	zcfg.ErrorOutputPaths = []string{logPath}
	return zcfg.Build()
}

func openSession(cfg config.ClientConfig, startOffline bool, logger *zap.Logger) (*session, error) {
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	records, err := localstore.Open(localstore.Kind(cfg.StoreKind), dir, cfg.StoreQuota)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	coord, err := chatsync.New(chatsync.Config{
		User: chatsync.User{
			ID:   cfg.UserID,
			Name: cfg.UserName,
			Role: cfg.UserRole,
		},
		PageSize:        cfg.PageSize,
		AnnouncerRole:   cfg.AnnouncerRole,
		DefaultLanguage: cfg.DefaultLanguage,
		CacheTTL:        cfg.CacheTTL,
		CacheMaxEntries: cfg.CacheMaxEntries,
		StartOffline:    startOffline,
	}, chatsync.Deps{
		Backend: backend.NewClient(cfg.BackendURL, cfg.ServiceKey, nil),
		Feed:    realtime.NewWSFeed(cfg.BackendURL, cfg.ServiceKey, nil, logger),
		Translator: translate.NewHTTPClient(cfg.TranslatorURL, translate.HTTPOptions{
			APIKey:     cfg.TranslatorKey,
			RPS:        cfg.TranslatorRPS,
			Burst:      cfg.TranslatorBurst,
			MaxRetries: cfg.TranslatorRetries,
		}),
		Records: records,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		_ = records.Close()
		return nil, err
	}

	s := &session{coord: coord, records: records, logger: logger}
	if cfg.MetricsAddr != "" {
		if err := s.serveMetrics(cfg.MetricsAddr, reg); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.metrics = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *session) Close() {
	s.coord.Close()
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.metrics.Shutdown(ctx)
		cancel()
	}
	if err := s.records.Close(); err != nil {
		s.logger.Warn("close local store", zap.Error(err))
	}
	_ = s.logger.Sync()
}
