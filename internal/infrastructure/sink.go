package infrastructure

import (
	"calltouch-etl/internal/domain"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"
)

// Sink is a RowSink holding resources that must be released.
type Sink interface {
	domain.RowSink
	Close() error
}

// OpenSink builds the sink selected by cfg.Driver.
func OpenSink(cfg config.SinkConfig, logger *logger.Logger, metrics *metrics.Metrics) (Sink, error) {
	if cfg.Driver == "csv" {
		return NewCSVSink(cfg.Path, cfg.ColumnSeparator, logger, metrics), nil
	}
	return OpenSQLSink(cfg, logger, metrics)
}
