package infrastructure

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// implements domain.RowSink on PostgreSQL or SQLite. A marker row in the
// marker table, committed with the data, records every applied run id.
type SQLSink struct {
	db          *sql.DB
	driver      string
	table       string
	markerTable string
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// opens the database described by cfg
func OpenSQLSink(cfg config.SinkConfig, logger *logger.Logger, metrics *metrics.Metrics) (*SQLSink, error) {
	var dsn string
	switch cfg.Driver {
	case "postgres":
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)
	case "sqlite3":
		dsn = cfg.Path
	default:
		return nil, fmt.Errorf("unsupported sink driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink: %w", err)
	}

	return NewSQLSink(db, cfg.Driver, cfg.Table, cfg.MarkerTable, logger, metrics), nil
}

func NewSQLSink(db *sql.DB, driver, table, markerTable string, logger *logger.Logger, metrics *metrics.Metrics) *SQLSink {
	if markerTable == "" {
		markerTable = "table_updates"
	}
	return &SQLSink{
		db:          db,
		driver:      driver,
		table:       table,
		markerTable: markerTable,
		logger:      logger,
		metrics:     metrics,
	}
}

func (s *SQLSink) Close() error {
	return s.db.Close()
}

// writes the batch in one transaction unless its run id was already applied
func (s *SQLSink) Write(ctx context.Context, batch domain.Batch) (bool, error) {
	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"table":  s.table,
		"run_id": batch.RunID,
		"rows":   len(batch.Rows),
	})

	applied, err := s.write(ctx, batch)
	switch {
	case err != nil:
		s.metrics.RecordSinkWrite(s.driver, "failed")
		log.WithError(err).Error("Failed to write batch")
		return false, err
	case !applied:
		s.metrics.RecordSinkWrite(s.driver, "skipped")
		log.Info("Run already applied, skipping write")
		return false, nil
	}

	s.metrics.RecordSinkWrite(s.driver, "committed")
	log.Info("Committed batch")
	return true, nil
}

func (s *SQLSink) write(ctx context.Context, batch domain.Batch) (bool, error) {
	if err := s.createMarkerTable(ctx); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE update_id = %s", pq.QuoteIdentifier(s.markerTable), s.placeholder(1)),
		batch.RunID,
	).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to check marker: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.createTableSQL(batch.Columns)); err != nil {
		return false, fmt.Errorf("failed to create table %s: %w", s.table, err)
	}

	if err := s.insertRows(ctx, tx, batch); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (update_id, target_table, inserted) VALUES (%s, %s, %s)",
			pq.QuoteIdentifier(s.markerTable), s.placeholder(1), s.placeholder(2), s.placeholder(3)),
		batch.RunID, s.table, time.Now().UTC(),
	); err != nil {
		return false, fmt.Errorf("failed to write marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit batch: %w", err)
	}

	return true, nil
}

func (s *SQLSink) createMarkerTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		update_id TEXT PRIMARY KEY,
		target_table TEXT,
		inserted TIMESTAMP
	)`, pq.QuoteIdentifier(s.markerTable))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create marker table: %w", err)
	}
	return nil
}

func (s *SQLSink) createTableSQL(columns []domain.Column) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pq.QuoteIdentifier(c.Name) + " " + sqlType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pq.QuoteIdentifier(s.table), strings.Join(defs, ", "))
}

func (s *SQLSink) insertRows(ctx context.Context, tx *sql.Tx, batch domain.Batch) error {
	if len(batch.Rows) == 0 {
		return nil
	}

	names := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		names[i] = c.Name
	}

	var query string
	if s.driver == "postgres" {
		query = pq.CopyIn(s.table, names...)
	} else {
		quoted := make([]string, len(names))
		marks := make([]string, len(names))
		for i, name := range names {
			quoted[i] = pq.QuoteIdentifier(name)
			marks[i] = s.placeholder(i + 1)
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			pq.QuoteIdentifier(s.table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range batch.Rows {
		if len(row) != len(batch.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(batch.Columns))
		}
		args := make([]any, len(row))
		for j, v := range row {
			args[j] = driverValue(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	// COPY buffers rows until an argument-less Exec flushes them.
	if s.driver == "postgres" {
		if _, err := stmt.ExecContext(ctx); err != nil {
			return fmt.Errorf("failed to flush copy: %w", err)
		}
	}

	return nil
}

func (s *SQLSink) placeholder(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func sqlType(t domain.ColumnType) string {
	switch t {
	case domain.TypeTimestamp:
		return "TIMESTAMP"
	case domain.TypeInteger:
		return "BIGINT"
	case domain.TypeBoolean:
		return "BOOLEAN"
	case domain.TypeNumeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

// driverValue turns decoded JSON values into database/sql arguments.
func driverValue(v any) driver.Value {
	switch val := v.(type) {
	case nil:
		return nil
	case json.Number:
		return val.String()
	case string, bool, int64, float64, []byte, time.Time:
		return val
	case int:
		return int64(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
