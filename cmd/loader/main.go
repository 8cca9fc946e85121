package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calltouch-etl/internal/infrastructure"
	"calltouch-etl/internal/usecase"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// loader runs one load over [-from, -to) and exits non-zero on failure so the
// scheduler can retry it.
func main() {
	defaultFrom, defaultTo := usecase.DefaultRange(time.Now())

	fromFlag := flag.String("from", defaultFrom.Format("2006-01-02"), "first day to load (YYYY-MM-DD)")
	toFlag := flag.String("to", defaultTo.Format("2006-01-02"), "day after the last day to load (YYYY-MM-DD)")
	flag.Parse()

	if err := run(*fromFlag, *toFlag); err != nil {
		fmt.Fprintf(os.Stderr, "load failed: %v\n", err)
		os.Exit(1)
	}
}

func run(fromStr, toStr string) error {
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return fmt.Errorf("invalid -from: %w", err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return fmt.Errorf("invalid -to: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(cfg.Logging.Level)
	m := metrics.New(prometheus.NewRegistry())

	sink, err := infrastructure.OpenSink(cfg.Sink, log, m)
	if err != nil {
		return err
	}
	defer sink.Close()

	client := infrastructure.NewCalltouchClient(cfg.Calltouch, log, m)
	service := usecase.NewLoadService(client, sink, cfg, log, m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := service.Run(ctx, from, to)
	if err != nil {
		return err
	}

	log.WithFields(map[string]any{
		"run_id":  report.RunID,
		"days":    report.Days,
		"rows":    report.Rows,
		"applied": report.Applied,
	}).Info("Done")

	return nil
}
