package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSiteID = "42"

var testDay = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.NewWithOutput("panic", io.Discard)
}

// newTestClient points discovery and the default host at srv; discovery is
// expected to fail so every call lands on srv.
func newTestClient(t *testing.T, srv *httptest.Server) (*CalltouchClient, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	client := NewCalltouchClient(config.CalltouchConfig{
		SiteID:         testSiteID,
		Token:          "tok",
		DiscoveryURL:   srv.URL,
		NodeDomain:     "calltouch.ru",
		DefaultHost:    srv.URL,
		RequestTimeout: 5 * time.Second,
		AudioDir:       t.TempDir(),
	}, testLogger(), m)
	return client, m
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestEndpointsFallBackToDefaultHost(t *testing.T) {
	var discoveries atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/getnodeid/", func(w http.ResponseWriter, r *http.Request) {
		discoveries.Add(1)
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, m := newTestClient(t, srv)

	endpoints := client.Endpoints(context.Background())
	assert.Equal(t, srv.URL, endpoints.Host)
	assert.Equal(t, srv.URL+"/calls-service/RestAPI/requests", endpoints.Requests)
	assert.Equal(t, srv.URL+"/calls-service/RestAPI/42/orders-diary/orders", endpoints.Orders)
	assert.Equal(t, srv.URL+"/calls-service/RestAPI/42/calls-diary/calls", endpoints.Calls)
	assert.Equal(t, srv.URL+"/calls-service/RestAPI/statistics/42/calls/seo/count-by-keywords",
		endpoints.Stats[domain.CallsSeoByKeywords])

	client.Endpoints(context.Background())
	assert.Equal(t, int32(1), discoveries.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EndpointDiscoveries.WithLabelValues("fallback")))
}

func TestEndpointsUseDiscoveredNode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/getnodeid/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `{"nodeId": 3}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	endpoints := client.Endpoints(context.Background())

	assert.Equal(t, "https://api-node3.calltouch.ru", endpoints.Host)
	assert.Equal(t, "https://api-node3.calltouch.ru/calls-service/RestAPI/42/calls-diary/calls", endpoints.Calls)
	for _, kind := range domain.StatKinds {
		assert.Contains(t, endpoints.Stats[kind], "https://api-node3.calltouch.ru/")
	}
}

func TestEndpointsMalformedDiscoveryBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/getnodeid/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, `not json`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	assert.Equal(t, srv.URL, client.Endpoints(context.Background()).Host)
}

func TestFetchOrdersWalksAllPages(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/orders-diary/orders", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "1000", q.Get("limit"))
		assert.Equal(t, "tok", q.Get("clientApiId"))
		assert.Equal(t, "05/03/2024", q.Get("dateFrom"))

		page, _ := strconv.Atoi(q.Get("page"))
		writeJSON(w, fmt.Sprintf(`{"page": %d, "totalPage": 3, "records": [{"orderId": %d}, {"orderId": %d}]}`,
			page, page*10+1, page*10+2))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	orders, err := client.FetchOrders(context.Background(), testDay, testDay)
	require.NoError(t, err)

	var ids []string
	for _, o := range orders {
		ids = append(ids, o.String("orderId"))
	}
	assert.Equal(t, []string{"11", "12", "21", "22", "31", "32"}, ids)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchOrdersSinglePage(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/orders-diary/orders", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, `{"totalPage": 0, "records": []}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	orders, err := client.FetchOrders(context.Background(), testDay, testDay)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchOrdersPageFailureAborts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/orders-diary/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, `{"totalPage": 3, "records": [{"orderId": 1}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	_, err := client.FetchOrders(context.Background(), testDay, testDay)

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	assert.Equal(t, "Problem. Response code - 429", reqErr.Error())
}

const callsBody = `[
	{"callId": 1, "date": "05/03/2024 10:00:00", "utmCampaign": "spring", "source": "yandex", "medium": "cpc",
	 "uniqueCall": "True", "targetCall": "True", "uniqTargetCall": "False"},
	{"callId": 2, "date": "05/03/2024 11:00:00", "utmCampaign": "spring", "source": "google", "medium": "organic",
	 "uniqueCall": "False", "targetCall": "True", "uniqTargetCall": "False"},
	{"callId": 3, "date": "05/03/2024 12:00:00", "utmCampaign": "autumn", "source": "direct", "medium": "none",
	 "uniqueCall": true, "targetCall": "False", "uniqTargetCall": "True",
	 "yandexDirect": {"campaignId": 77, "adGroupId": 88}}
]`

func callsServer(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/calls-diary/calls", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tok", q.Get("clientApiId"))
		assert.Equal(t, "1", q.Get("attribution"))
		assert.Equal(t, "true", q.Get("withYandexDirect"))
		assert.Equal(t, "true", q.Get("withGoogleAdwords"))
		writeJSON(w, callsBody)
	})
	return httptest.NewServer(mux)
}

func TestFetchCallsAggregates(t *testing.T) {
	srv := callsServer(t)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	days, err := client.FetchCalls(context.Background(), testDay, testDay, 1)
	require.NoError(t, err)
	require.Len(t, days, 2)

	assert.Equal(t, "spring", days[0].Name)
	assert.Equal(t, "05/03/2024 00:00:00", days[0].Date)
	assert.Equal(t, "yandex", days[0].Source)
	assert.Equal(t, 2, days[0].OrdinaryCalls)
	assert.Equal(t, []string{"1", "2"}, days[0].CallIDs)
	assert.Equal(t, 1, days[0].UniqCalls)
	assert.Equal(t, 2, days[0].TargetCalls)

	assert.Equal(t, "autumn", days[1].Name)
	assert.Equal(t, 0, days[1].UniqCalls)
	assert.Equal(t, 1, days[1].UniqTargetCalls)
}

func TestFetchRawCallsKeepsRecords(t *testing.T) {
	srv := callsServer(t)
	defer srv.Close()

	client, m := newTestClient(t, srv)
	calls, err := client.FetchRawCalls(context.Background(), testDay, testDay, 1)
	require.NoError(t, err)
	require.Len(t, calls, 3)

	v, ok := calls[2].Lookup("yandexDirect.campaignId")
	require.True(t, ok)
	assert.Equal(t, json.Number("77"), v)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalAPICalls.WithLabelValues("calls", "success")))
}

func TestFetchRequestsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/requests", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, m := newTestClient(t, srv)
	_, err := client.FetchRequests(context.Background(), testDay, testDay)

	var reqErr *domain.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExternalAPICalls.WithLabelValues("requests", "error_401")))
}

func TestFetchRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/requests", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("clientApiId"))
		assert.Equal(t, "06/03/2024", r.URL.Query().Get("dateTo"))
		writeJSON(w, `[{"requestId": 9, "subject": "callback"}]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	requests, err := client.FetchRequests(context.Background(), testDay, testDay.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, "callback", requests[0].String("subject"))
}

func statsServer(t *testing.T, path string, status int, body string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tok", q.Get("access_token"))
		assert.Empty(t, q.Get("clientApiId"))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	return httptest.NewServer(mux)
}

func TestFetchStatsByKeywordsKeepsOrder(t *testing.T) {
	srv := statsServer(t, "/calls-service/RestAPI/statistics/42/calls/seo/count-by-keywords",
		http.StatusOK, `{"shoes": 12, "hats": 3}`)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	result := client.FetchStats(context.Background(), testDay, testDay, domain.CallsSeoByKeywords)
	require.True(t, result.Status, result.Message)

	body, err := json.Marshal(result.Points)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"keyword":"shoes","calls":12},{"keyword":"hats","calls":3}]`, string(body))
	assert.Equal(t, "shoes", result.Points[0].Keyword)
	assert.Equal(t, "hats", result.Points[1].Keyword)
}

func TestFetchStatsByDate(t *testing.T) {
	srv := statsServer(t, "/calls-service/RestAPI/statistics/42/calls/count-by-date",
		http.StatusOK, `{"05/03/2024": 7, "04/03/2024": 2}`)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	result := client.FetchStats(context.Background(), testDay, testDay, domain.CallsByDate)
	require.True(t, result.Status, result.Message)
	assert.Equal(t, []domain.StatPoint{
		{Date: "05/03/2024", Calls: 7},
		{Date: "04/03/2024", Calls: 2},
	}, result.Points)
}

func TestFetchStatsTotal(t *testing.T) {
	srv := statsServer(t, "/calls-service/RestAPI/statistics/42/calls/total-count", http.StatusOK, `135`)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	result := client.FetchStats(context.Background(), testDay, testDay, domain.CallsTotal)
	require.True(t, result.Status)
	assert.Equal(t, json.Number("135"), result.CallsTotal)
}

func TestFetchStatsReportsFailure(t *testing.T) {
	srv := statsServer(t, "/calls-service/RestAPI/statistics/42/calls/seo/count-by-date", http.StatusForbidden, ``)
	defer srv.Close()

	client, _ := newTestClient(t, srv)
	result := client.FetchStats(context.Background(), testDay, testDay, domain.CallsSeoByDate)
	assert.False(t, result.Status)
	assert.Equal(t, "Problem. Response code - 403", result.Message)

	unknown := client.FetchStats(context.Background(), testDay, testDay, domain.StatKind("bogus"))
	assert.False(t, unknown.Status)
}

func TestFetchAudioRecording(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calls-service/RestAPI/42/calls-diary/calls/1001/download", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.URL.Query().Get("clientApiId"))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mp3"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, _ := newTestClient(t, srv)

	result := client.FetchAudioRecording(context.Background(), "1001")
	require.True(t, result.Status, result.Message)
	assert.Equal(t, "Call Record Saved as: 1001_record.mp3", result.Message)
	assert.Equal(t, "1001_record.mp3", filepath.Base(result.Path))

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, "ID3-fake-mp3", string(data))

	missing := client.FetchAudioRecording(context.Background(), "2002")
	assert.False(t, missing.Status)
	assert.Equal(t, "Problem. Response code - 404", missing.Message)
	_, err = os.Stat(filepath.Join(client.audioDir, "2002_record.mp3"))
	assert.True(t, os.IsNotExist(err))
}
