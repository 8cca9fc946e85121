package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/internal/transform"
	"calltouch-etl/pkg/config"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"golang.org/x/time/rate"
)

const ordersPageSize = 1000

// implements domain.CalltouchAPI
type CalltouchClient struct {
	client      *http.Client
	token       string
	audioDir    string
	resolver    *endpointResolver
	logger      *logger.Logger
	metrics     *metrics.Metrics
	rateLimiter *rate.Limiter
}

// creates a new Calltouch client; endpoints are resolved on first use
func NewCalltouchClient(cfg config.CalltouchConfig, logger *logger.Logger, metrics *metrics.Metrics) *CalltouchClient {
	client := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	limit := rate.Inf
	if cfg.RateLimitPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimitPerSecond)
	}

	audioDir := cfg.AudioDir
	if audioDir == "" {
		audioDir = "."
	}

	return &CalltouchClient{
		client:   client,
		token:    cfg.Token,
		audioDir: audioDir,
		resolver: &endpointResolver{
			client:       client,
			siteID:       cfg.SiteID,
			discoveryURL: cfg.DiscoveryURL,
			nodeDomain:   cfg.NodeDomain,
			defaultHost:  cfg.DefaultHost,
			logger:       logger,
			metrics:      metrics,
		},
		logger:      logger,
		metrics:     metrics,
		rateLimiter: rate.NewLimiter(limit, 1),
	}
}

// Endpoints resolves (once) and returns the account's API URLs.
func (c *CalltouchClient) Endpoints(ctx context.Context) Endpoints {
	return c.resolver.resolve(ctx)
}

// fetches the requests journal for a date range
func (c *CalltouchClient) FetchRequests(ctx context.Context, from, to time.Time) ([]domain.Record, error) {
	query := url.Values{
		"dateFrom":    {from.Format(domain.APIDateLayout)},
		"dateTo":      {to.Format(domain.APIDateLayout)},
		"clientApiId": {c.token},
	}

	var records []domain.Record
	if err := c.getJSON(ctx, "requests", c.Endpoints(ctx).Requests, query, &records); err != nil {
		return nil, fmt.Errorf("failed to fetch requests: %w", err)
	}

	return records, nil
}

// fetches every page of the orders diary, in page order
func (c *CalltouchClient) FetchOrders(ctx context.Context, from, to time.Time) ([]domain.Record, error) {
	endpoint := c.Endpoints(ctx).Orders
	log := c.logger.WithContext(ctx)

	var records []domain.Record
	for page := 1; ; page++ {
		query := url.Values{
			"dateFrom":    {from.Format(domain.APIDateLayout)},
			"dateTo":      {to.Format(domain.APIDateLayout)},
			"clientApiId": {c.token},
			"page":        {strconv.Itoa(page)},
			"limit":       {strconv.Itoa(ordersPageSize)},
		}

		var data domain.OrdersPage
		if err := c.getJSON(ctx, "orders", endpoint, query, &data); err != nil {
			return nil, fmt.Errorf("failed to fetch orders page %d: %w", page, err)
		}
		records = append(records, data.Records...)

		log.WithFields(map[string]any{
			"page":       page,
			"total_page": data.TotalPage,
			"records":    len(data.Records),
		}).Debug("Fetched orders page")

		if page >= data.TotalPage {
			break
		}
	}

	return records, nil
}

// fetches calls and summarizes them per campaign, dated by from
func (c *CalltouchClient) FetchCalls(ctx context.Context, from, to time.Time, attribution int) ([]domain.CampaignDay, error) {
	calls, err := c.FetchRawCalls(ctx, from, to, attribution)
	if err != nil {
		return nil, err
	}
	return transform.AggregateCalls(calls, from), nil
}

// fetches the calls diary with Yandex.Direct and Google Ads data attached
func (c *CalltouchClient) FetchRawCalls(ctx context.Context, from, to time.Time, attribution int) ([]domain.Record, error) {
	query := url.Values{
		"clientApiId":       {c.token},
		"dateFrom":          {from.Format(domain.APIDateLayout)},
		"dateTo":            {to.Format(domain.APIDateLayout)},
		"attribution":       {strconv.Itoa(attribution)},
		"withYandexDirect":  {"true"},
		"withGoogleAdwords": {"true"},
	}

	var calls []domain.Record
	if err := c.getJSON(ctx, "calls", c.Endpoints(ctx).Calls, query, &calls); err != nil {
		return nil, fmt.Errorf("failed to fetch calls: %w", err)
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"date_from": from.Format(domain.APIDateLayout),
		"date_to":   to.Format(domain.APIDateLayout),
		"calls":     len(calls),
	}).Info("Successfully fetched calls")

	return calls, nil
}

// streams a call recording to {callID}_record.mp3 in the audio directory
func (c *CalltouchClient) FetchAudioRecording(ctx context.Context, callID string) domain.AudioResult {
	endpoint := fmt.Sprintf("%s/%s/download", c.Endpoints(ctx).Calls, url.PathEscape(callID))
	query := url.Values{"clientApiId": {c.token}}

	resp, err := c.get(ctx, "audio", endpoint, query)
	if err != nil {
		return domain.AudioResult{Status: false, Message: reportMessage(err)}
	}
	defer resp.Body.Close()

	name := callID + "_record.mp3"
	path := filepath.Join(c.audioDir, name)

	if err := writeFile(path, resp.Body); err != nil {
		c.metrics.RecordExternalAPIFailure("audio", "write_file")
		c.logger.WithContext(ctx).WithError(err).WithField("call_id", callID).Error("Failed to save call record")
		return domain.AudioResult{Status: false, Message: err.Error()}
	}

	return domain.AudioResult{
		Status:  true,
		Message: "Call Record Saved as: " + name,
		Path:    path,
	}
}

// fetches a statistics series; failures are reported, not returned
func (c *CalltouchClient) FetchStats(ctx context.Context, from, to time.Time, kind domain.StatKind) domain.StatsResult {
	endpoint, ok := c.Endpoints(ctx).Stats[kind]
	if !ok {
		return domain.StatsResult{Status: false, Kind: kind, Message: fmt.Sprintf("unknown stat kind %q", kind)}
	}

	query := url.Values{
		"access_token": {c.token},
		"dateFrom":     {from.Format(domain.APIDateLayout)},
		"dateTo":       {to.Format(domain.APIDateLayout)},
	}

	resp, err := c.get(ctx, "stats", endpoint, query)
	if err != nil {
		return domain.StatsResult{Status: false, Kind: kind, Message: reportMessage(err)}
	}
	defer resp.Body.Close()

	result := domain.StatsResult{Status: true, Kind: kind}

	switch kind {
	case domain.CallsByDate, domain.CallsSeoByDate, domain.CallsSeoByKeywords:
		pairs, err := decodeCounts(resp.Body)
		if err != nil {
			c.metrics.RecordExternalAPIFailure("stats", "json_parse")
			return domain.StatsResult{Status: false, Kind: kind, Message: err.Error()}
		}
		result.Points = make([]domain.StatPoint, 0, len(pairs))
		for _, p := range pairs {
			point := domain.StatPoint{Calls: p.calls}
			if kind == domain.CallsSeoByKeywords {
				point.Keyword = p.key
			} else {
				point.Date = p.key
			}
			result.Points = append(result.Points, point)
		}
	default:
		decoder := json.NewDecoder(resp.Body)
		decoder.UseNumber()
		if err := decoder.Decode(&result.CallsTotal); err != nil {
			c.metrics.RecordExternalAPIFailure("stats", "json_parse")
			return domain.StatsResult{Status: false, Kind: kind, Message: err.Error()}
		}
	}

	return result
}

// issues GET {endpoint}?{query}; any status but 200 becomes a RequestError.
// The caller closes the body of a successful response.
func (c *CalltouchClient) get(ctx context.Context, api, endpoint string, query url.Values) (*http.Response, error) {
	start := time.Now()

	if err := c.rateLimiter.Wait(ctx); err != nil {
		c.metrics.RecordExternalAPIFailure(api, "rate_limit")
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "request_creation")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPIFailure(api, "network_error")
		return nil, fmt.Errorf("failed to call %s API: %w", api, err)
	}

	c.metrics.RecordExternalAPICall(api, statusLabel(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &domain.RequestError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	return resp, nil
}

func (c *CalltouchClient) getJSON(ctx context.Context, api, endpoint string, query url.Values, out any) error {
	resp, err := c.get(ctx, api, endpoint, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		c.metrics.RecordExternalAPIFailure(api, "json_parse")
		return fmt.Errorf("failed to parse %s response: %w", api, err)
	}

	return nil
}

// reportMessage keeps the API wording for request errors.
func reportMessage(err error) string {
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Error()
	}
	return err.Error()
}

// writeFile streams r into path, removing the file if the copy fails.
func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

type countPair struct {
	key   string
	calls int64
}

// decodeCounts reads a JSON object of name -> count keeping the key order of
// the response.
func decodeCounts(r io.Reader) ([]countPair, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	tok, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var pairs []countPair
	for decoder.More() {
		tok, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key %v", tok)
		}

		var value json.Number
		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("count for %q: %w", key, err)
		}
		calls, err := value.Int64()
		if err != nil {
			return nil, fmt.Errorf("count for %q: %w", key, err)
		}

		pairs = append(pairs, countPair{key: key, calls: calls})
	}

	if _, err := decoder.Token(); err != nil {
		return nil, err
	}

	return pairs, nil
}
