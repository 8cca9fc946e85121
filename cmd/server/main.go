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

	"calltouch-etl/internal/delivery"
	"calltouch-etl/internal/infrastructure"
	"calltouch-etl/internal/usecase"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)
	m := metrics.New(prometheus.DefaultRegisterer)

	client := infrastructure.NewCalltouchClient(cfg.Calltouch, log, m)

	sink, err := infrastructure.OpenSink(cfg.Sink, log, m)
	if err != nil {
		log.WithError(err).Fatal("Failed to open sink")
	}
	defer sink.Close()

	loadService := usecase.NewLoadService(client, sink, cfg, log, m)
	grabberService := usecase.NewGrabberService(client, cfg.Load.Attribution, log)

	handlers := delivery.NewHTTPHandlers(loadService, grabberService, log, m)
	router := delivery.NewHTTPRouter(handlers, log, m, prometheus.DefaultGatherer).SetupRoutes()

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.WithFields(map[string]any{
			"port":  cfg.Server.Port,
			"stage": cfg.Stage,
			"app":   cfg.App,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
}
