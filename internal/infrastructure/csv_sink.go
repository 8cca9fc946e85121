package infrastructure

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"calltouch-etl/internal/domain"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"
)

// implements domain.RowSink as one delimited file per run id. The file is
// renamed into place only once complete, so its presence marks the run applied.
type CSVSink struct {
	dir       string
	separator rune
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewCSVSink(dir, separator string, logger *logger.Logger, metrics *metrics.Metrics) *CSVSink {
	sep := ';'
	if separator != "" {
		sep = []rune(separator)[0]
	}
	return &CSVSink{dir: dir, separator: sep, logger: logger, metrics: metrics}
}

func (s *CSVSink) Write(ctx context.Context, batch domain.Batch) (bool, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"dir":    s.dir,
		"run_id": batch.RunID,
		"rows":   len(batch.Rows),
	})

	target := filepath.Join(s.dir, batch.RunID+".csv")
	if _, err := os.Stat(target); err == nil {
		s.metrics.RecordSinkWrite("csv", "skipped")
		log.Info("Run already applied, skipping write")
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		s.metrics.RecordSinkWrite("csv", "failed")
		return false, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	if err := s.writeFile(target, batch); err != nil {
		s.metrics.RecordSinkWrite("csv", "failed")
		log.WithError(err).Error("Failed to write batch")
		return false, err
	}

	s.metrics.RecordSinkWrite("csv", "committed")
	log.Info("Committed batch")
	return true, nil
}

func (s *CSVSink) writeFile(target string, batch domain.Batch) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".run-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	w.Comma = s.separator

	header := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		header[i] = c.Name
	}
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}

	record := make([]string, len(batch.Columns))
	for _, row := range batch.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) && row[i] != nil {
				record[i] = fmt.Sprint(driverValue(row[i]))
			}
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), target)
}

func (s *CSVSink) Close() error {
	return nil
}
