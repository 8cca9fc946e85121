package usecase

import (
	"context"
	"fmt"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/internal/transform"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"
)

// LoadService pulls calls day by day, maps them to rows and writes the whole
// range to the sink as a single batch.
type LoadService struct {
	api         domain.CalltouchAPI
	sink        domain.RowSink
	columns     []domain.Column
	logger      *logger.Logger
	metrics     *metrics.Metrics
	pipeline    string
	table       string
	attribution int
	rawCalls    bool
	now         func() time.Time
}

func NewLoadService(
	api domain.CalltouchAPI,
	sink domain.RowSink,
	cfg *config.Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *LoadService {
	return &LoadService{
		api:         api,
		sink:        sink,
		columns:     domain.CallColumns,
		logger:      logger,
		metrics:     metrics,
		pipeline:    cfg.Load.Pipeline,
		table:       cfg.Sink.Table,
		attribution: cfg.Load.Attribution,
		rawCalls:    cfg.Load.RawCalls,
		now:         time.Now,
	}
}

// RunID is the identifier the next run would use: stamped with yesterday's
// date, so every run on the same day shares it.
func (s *LoadService) RunID() string {
	return domain.RunID(s.pipeline, s.table, s.now().AddDate(0, 0, -1))
}

// Executes one load over [from, to). Nothing is written unless every day
// succeeds; a run whose id was already applied writes nothing and succeeds.
func (s *LoadService) Run(ctx context.Context, from, to time.Time) (*domain.LoadReport, error) {
	start := time.Now()
	s.metrics.IncLoadRunsInProgress()
	defer s.metrics.DecLoadRunsInProgress()

	runID := s.RunID()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log := s.logger.WithContext(ctx)
	log.WithFields(map[string]any{
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"raw_calls": s.rawCalls,
	}).Info("Starting load run")

	var rows []domain.Row
	days := 0

	for day := range DayRange(from, to) {
		dayRows, err := s.rowsForDay(ctx, day)
		if err != nil {
			s.metrics.RecordLoadRun("failed", "extract", time.Since(start))
			return nil, fmt.Errorf("failed to load %s: %w", day.Format("2006-01-02"), err)
		}
		rows = append(rows, dayRows...)
		days++
	}

	applied, err := s.sink.Write(ctx, domain.Batch{RunID: runID, Columns: s.columns, Rows: rows})
	if err != nil {
		s.metrics.RecordLoadRun("failed", "load", time.Since(start))
		return nil, fmt.Errorf("failed to write batch: %w", err)
	}

	duration := time.Since(start)
	status := "success"
	if !applied {
		status = "skipped"
	}
	s.metrics.RecordLoadRun(status, "complete", duration)

	log.WithFields(map[string]any{
		"duration": duration,
		"days":     days,
		"rows":     len(rows),
		"applied":  applied,
	}).Info("Load run completed")

	return &domain.LoadReport{
		RunID:    runID,
		Days:     days,
		Rows:     len(rows),
		Applied:  applied,
		Duration: duration,
	}, nil
}

func (s *LoadService) rowsForDay(ctx context.Context, day time.Time) ([]domain.Row, error) {
	s.logger.WithContext(ctx).WithField("day", day.Format("2006-01-02")).Info("Fetching calls")

	var records []domain.Record
	source := "campaign_days"

	if s.rawCalls {
		calls, err := s.api.FetchRawCalls(ctx, day, day, s.attribution)
		if err != nil {
			return nil, err
		}
		records = calls
		source = "calls"
	} else {
		summaries, err := s.api.FetchCalls(ctx, day, day, s.attribution)
		if err != nil {
			return nil, err
		}
		records = make([]domain.Record, len(summaries))
		for i, summary := range summaries {
			records[i] = summary.Record()
		}
	}

	rows, err := transform.MapRows(records, s.columns)
	if err != nil {
		s.metrics.RecordRowFailure(source, "format")
		return nil, err
	}

	s.metrics.RecordRows(source, "success", len(rows))
	return rows, nil
}
