package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"prudo-grid/internal/config"
	httpHandler "prudo-grid/internal/handler/http"
	"prudo-grid/internal/handler/ml"
	"prudo-grid/internal/service"
	"prudo-grid/internal/store"
	"prudo-grid/internal/subscriber"
)

var logger = loggo.GetLogger("prudo")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := gnuflag.NewFlagSet("prudo-grid", gnuflag.ContinueOnError)
	configPath := flags.String("config", "", "path to a YAML config file")
	if err := flags.Parse(true, args); err != nil {
		return errors.Trace(err)
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		return errors.Annotate(err, "loading config")
	}
	if err := loggo.ConfigureLoggers(cfg.LogConfig); err != nil {
		return errors.Annotate(err, "configuring loggers")
	}

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	subscriberMetrics := subscriber.NewMetricsCollector()
	ingestMetrics := service.NewMetricsCollector()
	registry.MustRegister(subscriberMetrics, ingestMetrics)

	// Инициализируем ML-адаптер
	modelAdapter := ml.NewModelAdapter(cfg.ModelPath, cfg.InferenceURL, cfg.InferenceTimeout, nil)

	// Проверяем доступность ML-сервиса
	ctx, cancel := context.WithTimeout(context.Background(), cfg.InferenceTimeout)
	if err := modelAdapter.CheckHealth(ctx, cfg.HealthRetryAttempts, time.Second); err != nil {
		logger.Warningf("ML service not available: %v", err)
	}
	cancel()

	detections := store.NewDetectionStore(cfg.DataDir)
	subscriptions := subscriber.NewRegistry(cfg.SubscriberBuffer, subscriberMetrics)

	// Создаём сервис
	detectorService, err := service.NewDetectorService(service.Config{
		Model:                  modelAdapter,
		Store:                  detections,
		Publisher:              subscriptions,
		Metrics:                ingestMetrics,
		MinConfidence:          cfg.MinConfidence,
		MaxConcurrentInference: cfg.MaxConcurrentInference,
	})
	if err != nil {
		return errors.Trace(err)
	}

	// Создаём HTTP handler
	handler, err := httpHandler.NewHandler(httpHandler.Config{
		Detector:          detectorService,
		Detections:        detections,
		Profiles:          store.NewProfileStore(cfg.DataDir),
		Registry:          subscriptions,
		Clock:             clock.WallClock,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxUploadBytes:    cfg.MaxUploadBytes,
	})
	if err != nil {
		return errors.Trace(err)
	}

	// Запускаем сервер
	server, err := httpHandler.NewServer(httpHandler.ServerConfig{
		Addr:            net.JoinHostPort("", cfg.Port),
		Handler:         httpHandler.NewRouter(handler, registry, cfg.StaticDir),
		Subscriptions:   subscriptions,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return errors.Annotate(err, "starting server")
	}
	logger.Infof("server listening on %s", server.Addr())
	logger.Infof("ML inference URL: %s, data dir: %s", cfg.InferenceURL, cfg.DataDir)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	waitErr := make(chan error, 1)
	go func() { waitErr <- server.Wait() }()

	select {
	case sig := <-signals:
		logger.Infof("received %v, shutting down", sig)
		return errors.Trace(worker.Stop(server))
	case err := <-waitErr:
		return errors.Annotate(err, "server stopped")
	}
}
