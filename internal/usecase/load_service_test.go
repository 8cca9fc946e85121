package usecase

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/internal/infrastructure"
	"calltouch-etl/internal/transform"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI serves canned raw calls per day.
type fakeAPI struct {
	calls    map[string][]domain.Record
	failOn   string
	requests []time.Time
}

func (f *fakeAPI) FetchRawCalls(_ context.Context, from, _ time.Time, _ int) ([]domain.Record, error) {
	f.requests = append(f.requests, from)
	key := from.Format("2006-01-02")
	if key == f.failOn {
		return nil, &domain.RequestError{StatusCode: 502}
	}
	return f.calls[key], nil
}

func (f *fakeAPI) FetchCalls(ctx context.Context, from, to time.Time, attribution int) ([]domain.CampaignDay, error) {
	calls, err := f.FetchRawCalls(ctx, from, to, attribution)
	if err != nil {
		return nil, err
	}
	return transform.AggregateCalls(calls, from), nil
}

func (f *fakeAPI) FetchRequests(context.Context, time.Time, time.Time) ([]domain.Record, error) {
	return nil, nil
}

func (f *fakeAPI) FetchOrders(context.Context, time.Time, time.Time) ([]domain.Record, error) {
	return nil, nil
}

func (f *fakeAPI) FetchAudioRecording(context.Context, string) domain.AudioResult {
	return domain.AudioResult{}
}

func (f *fakeAPI) FetchStats(_ context.Context, _, _ time.Time, kind domain.StatKind) domain.StatsResult {
	return domain.StatsResult{Status: true, Kind: kind}
}

type recordingSink struct {
	batches []domain.Batch
}

func (s *recordingSink) Write(_ context.Context, batch domain.Batch) (bool, error) {
	s.batches = append(s.batches, batch)
	return true, nil
}

func rawCall(id, date, campaign string) domain.Record {
	return domain.Record{
		"callId":      json.Number(id),
		"date":        date,
		"utmCampaign": campaign,
		"source":      "yandex",
		"medium":      "cpc",
		"uniqueCall":  "True",
		"yandexDirect": map[string]any{
			"campaignId": json.Number("900"),
		},
	}
}

func testAPI() *fakeAPI {
	return &fakeAPI{calls: map[string][]domain.Record{
		"2024-03-05": {
			rawCall("1", "05/03/2024 10:00:00", "spring"),
			rawCall("2", "05/03/2024 11:00:00", "spring"),
			rawCall("3", "05/03/2024 12:00:00", "autumn"),
		},
		"2024-03-06": {
			rawCall("4", "06/03/2024 09:30:00", "spring"),
		},
	}}
}

func testConfig(raw bool) *config.Config {
	return &config.Config{
		Sink: config.SinkConfig{Table: "calltouch_calls"},
		Load: config.LoadConfig{Pipeline: "CalltouchGetter", RawCalls: raw},
	}
}

func newService(api domain.CalltouchAPI, sink domain.RowSink, raw bool) (*LoadService, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	service := NewLoadService(api, sink, testConfig(raw), logger.NewWithOutput("panic", io.Discard), m)
	service.now = func() time.Time { return time.Date(2024, 3, 8, 6, 0, 0, 0, time.UTC) }
	return service, m
}

var (
	march5 = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	march7 = time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)
)

func TestRunAggregatesEachDayIntoOneBatch(t *testing.T) {
	api := testAPI()
	sink := &recordingSink{}
	service, m := newService(api, sink, false)

	report, err := service.Run(context.Background(), march5, march7)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{march5, march5.AddDate(0, 0, 1)}, api.requests)
	assert.Equal(t, "CalltouchGetter_calltouch_calls_2024-03-07", report.RunID)
	assert.Equal(t, 2, report.Days)
	assert.Equal(t, 3, report.Rows)
	assert.True(t, report.Applied)

	require.Len(t, sink.batches, 1)
	batch := sink.batches[0]
	assert.Equal(t, report.RunID, batch.RunID)
	assert.Equal(t, domain.CallColumns, batch.Columns)
	require.Len(t, batch.Rows, 3)
	for _, row := range batch.Rows {
		assert.Len(t, row, len(domain.CallColumns))
	}

	assert.Equal(t, "2024-03-05 00:00:00", batch.Rows[0][0])
	assert.Equal(t, "spring", batch.Rows[0][6])
	assert.Equal(t, "autumn", batch.Rows[1][6])
	assert.Equal(t, "2024-03-06 00:00:00", batch.Rows[2][0])

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsProcessed.WithLabelValues("campaign_days", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadRunsTotal.WithLabelValues("success", "complete")))
}

func TestRunRawCallsMapsEveryCall(t *testing.T) {
	sink := &recordingSink{}
	service, _ := newService(testAPI(), sink, true)

	report, err := service.Run(context.Background(), march5, march7)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Rows)

	first := sink.batches[0].Rows[0]
	assert.Equal(t, "2024-03-05 10:00:00", first[0])
	assert.Equal(t, json.Number("1"), first[3])
	assert.Equal(t, "True", first[9])
	assert.Equal(t, json.Number("900"), first[17])
}

func TestRunFailureWritesNothing(t *testing.T) {
	api := testAPI()
	api.failOn = "2024-03-06"
	sink := &recordingSink{}
	service, m := newService(api, sink, false)

	_, err := service.Run(context.Background(), march5, march7)

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, 502, reqErr.StatusCode)
	assert.Empty(t, sink.batches)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadRunsTotal.WithLabelValues("failed", "extract")))
}

func TestRunFormatErrorAborts(t *testing.T) {
	api := testAPI()
	api.calls["2024-03-05"][0]["date"] = "2024-03-05T10:00:00Z"
	sink := &recordingSink{}
	service, _ := newService(api, sink, true)

	_, err := service.Run(context.Background(), march5, march7)

	var formatErr *domain.FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.Empty(t, sink.batches)
}

func TestRunTwiceCommitsOnce(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "sink.db"))
	require.NoError(t, err)
	defer db.Close()

	m := metrics.New(prometheus.NewRegistry())
	sink := infrastructure.NewSQLSink(db, "sqlite3", "calltouch_calls", "table_updates",
		logger.NewWithOutput("panic", io.Discard), m)
	service, _ := newService(testAPI(), sink, false)

	first, err := service.Run(context.Background(), march5, march7)
	require.NoError(t, err)
	assert.True(t, first.Applied)

	second, err := service.Run(context.Background(), march5, march7)
	require.NoError(t, err)
	assert.False(t, second.Applied)
	assert.Equal(t, first.RunID, second.RunID)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM calltouch_calls`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestRunIDChangesWithDay(t *testing.T) {
	service, _ := newService(testAPI(), &recordingSink{}, false)
	morning := service.RunID()

	service.now = func() time.Time { return time.Date(2024, 3, 8, 23, 59, 0, 0, time.UTC) }
	assert.Equal(t, morning, service.RunID())

	service.now = func() time.Time { return time.Date(2024, 3, 9, 0, 1, 0, 0, time.UTC) }
	assert.NotEqual(t, morning, service.RunID())
}
