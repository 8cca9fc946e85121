package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"
)

// Endpoints are the per-account API URLs, all rooted at Host.
type Endpoints struct {
	Host     string
	Requests string
	Orders   string
	Calls    string
	Stats    map[domain.StatKind]string
}

func buildEndpoints(host, siteID string) Endpoints {
	api := host + "/calls-service/RestAPI"
	stats := fmt.Sprintf("%s/statistics/%s/calls", api, siteID)

	return Endpoints{
		Host:     host,
		Requests: api + "/requests",
		Orders:   fmt.Sprintf("%s/%s/orders-diary/orders", api, siteID),
		Calls:    fmt.Sprintf("%s/%s/calls-diary/calls", api, siteID),
		Stats: map[domain.StatKind]string{
			domain.CallsTotal:         stats + "/total-count",
			domain.CallsByDate:        stats + "/count-by-date",
			domain.CallsSeoByDate:     stats + "/seo/count-by-date",
			domain.CallsSeoByKeywords: stats + "/seo/count-by-keywords",
		},
	}
}

// endpointResolver looks up the account's API node once and remembers it.
type endpointResolver struct {
	client       *http.Client
	siteID       string
	discoveryURL string
	nodeDomain   string
	defaultHost  string
	logger       *logger.Logger
	metrics      *metrics.Metrics

	once      sync.Once
	endpoints Endpoints
}

func (r *endpointResolver) resolve(ctx context.Context) Endpoints {
	r.once.Do(func() {
		r.endpoints = buildEndpoints(r.detectHost(ctx), r.siteID)
	})
	return r.endpoints
}

// detectHost never fails: any problem with discovery yields the default host.
func (r *endpointResolver) detectHost(ctx context.Context) string {
	start := time.Now()
	url := fmt.Sprintf("%s/calls-service/RestAPI/%s/getnodeid/", strings.TrimRight(r.discoveryURL, "/"), r.siteID)
	log := r.logger.WithContext(ctx).WithField("site_id", r.siteID)

	fallback := func(reason string, err error) string {
		r.metrics.RecordEndpointDiscovery("fallback")
		entry := log.WithFields(map[string]any{
			"reason":       reason,
			"default_host": r.defaultHost,
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("Endpoint discovery failed, using default host")
		return r.defaultHost
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fallback("request_creation", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.metrics.RecordExternalAPIFailure("discovery", "network_error")
		return fallback("network_error", err)
	}
	defer resp.Body.Close()

	r.metrics.RecordExternalAPICall("discovery", statusLabel(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return fallback(fmt.Sprintf("status_%d", resp.StatusCode), nil)
	}

	var body struct {
		NodeID json.Number `json:"nodeId"`
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil || body.NodeID == "" {
		return fallback("json_parse", err)
	}

	host := fmt.Sprintf("https://api-node%s.%s", body.NodeID, r.nodeDomain)
	r.metrics.RecordEndpointDiscovery("node")
	log.WithField("host", host).Info("Resolved Calltouch API node")

	return host
}

func statusLabel(code int) string {
	if code == http.StatusOK {
		return "success"
	}
	return fmt.Sprintf("error_%d", code)
}
