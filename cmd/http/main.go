package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/awmpietro/golang-declarative-debugger/internal/app"
	"github.com/awmpietro/golang-declarative-debugger/internal/cache"
	"github.com/awmpietro/golang-declarative-debugger/internal/collect"
	"github.com/awmpietro/golang-declarative-debugger/internal/config"
	"github.com/awmpietro/golang-declarative-debugger/internal/transport/httptransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	events := collect.NewAsyncEventObserver(collect.NewEventLogger(logger), cfg.ObsBuffer)
	defer events.Close()

	strategy, _ := collect.ParseMatchStrategy(cfg.MatchStrategy)
	opts := []app.ServiceOption{
		app.WithLogger(logger),
		app.WithEventObserver(events),
		app.WithDefaults(uint64(cfg.DepthStepSize), strategy),
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := collect.NewPrometheusObserver(reg)
		opts = append(opts, app.WithEventObserver(metrics), app.WithSessionObserver(metrics))
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	svc := app.NewService(cache.NewInMemory(cfg.CacheMaxItems), opts...)
	h := httptransport.NewHandler(svc)
	mux.HandleFunc("/diagnose", h.Diagnose)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Stringer("strategy", strategy))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
	if n := events.Dropped(); n > 0 {
		logger.Warn("event observations dropped", zap.Uint64("count", n))
	}
}
