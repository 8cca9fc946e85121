package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"calltouch-etl/internal/domain"
	"calltouch-etl/internal/usecase"
	"calltouch-etl/pkg/logger"
	"calltouch-etl/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// handles HTTP requests
type HTTPHandlers struct {
	loadService    *usecase.LoadService
	grabberService *usecase.GrabberService
	logger         *logger.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

// creates new HTTP handlers
func NewHTTPHandlers(
	loadService *usecase.LoadService,
	grabberService *usecase.GrabberService,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *HTTPHandlers {
	return &HTTPHandlers{
		loadService:    loadService,
		grabberService: grabberService,
		logger:         logger,
		metrics:        metrics,
		now:            time.Now,
	}
}

// triggers a load run over [from, to)
func (h *HTTPHandlers) IngestRun(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	ctx, requestID := h.requestContext(c)
	log := h.logger.WithContext(ctx)

	from, to, err := h.parseRange(c)
	if err != nil {
		h.badRequest(c, "POST", "/ingest/run", start, requestID, err)
		return
	}

	log.Info("Starting load run")

	report, err := h.loadService.Run(ctx, from, to)
	if err != nil {
		h.metrics.RecordHTTPRequest("POST", "/ingest/run", "500", time.Since(start))
		log.WithError(err).Error("Load run failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Load run failed",
			"message":    err.Error(),
			"request_id": requestID,
		})
		return
	}

	h.metrics.RecordHTTPRequest("POST", "/ingest/run", "200", time.Since(start))

	message := "Load run completed successfully"
	if !report.Applied {
		message = "Run already applied, nothing written"
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    message,
		"run_id":     report.RunID,
		"days":       report.Days,
		"rows":       report.Rows,
		"applied":    report.Applied,
		"from":       from.Format(dateLayout),
		"to":         to.Format(dateLayout),
		"request_id": requestID,
	})
}

// returns calls for a date range, aggregated per campaign unless raw=true
func (h *HTTPHandlers) GetCalls(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	ctx, requestID := h.requestContext(c)

	from, to, err := h.parseRange(c)
	if err != nil {
		h.badRequest(c, "GET", "/calls", start, requestID, err)
		return
	}

	raw, _ := strconv.ParseBool(c.DefaultQuery("raw", "false"))

	data, err := h.grabberService.Calls(ctx, from, to, raw)
	if err != nil {
		h.upstreamError(c, "GET", "/calls", start, requestID, err)
		return
	}

	h.metrics.RecordHTTPRequest("GET", "/calls", "200", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"data":       data,
		"raw":        raw,
		"request_id": requestID,
	})
}

// returns every page of the orders diary
func (h *HTTPHandlers) GetOrders(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	ctx, requestID := h.requestContext(c)

	from, to, err := h.parseRange(c)
	if err != nil {
		h.badRequest(c, "GET", "/orders", start, requestID, err)
		return
	}

	orders, err := h.grabberService.Orders(ctx, from, to)
	if err != nil {
		h.upstreamError(c, "GET", "/orders", start, requestID, err)
		return
	}

	h.metrics.RecordHTTPRequest("GET", "/orders", "200", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"data":       orders,
		"total":      len(orders),
		"request_id": requestID,
	})
}

// returns the requests journal
func (h *HTTPHandlers) GetRequests(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	ctx, requestID := h.requestContext(c)

	from, to, err := h.parseRange(c)
	if err != nil {
		h.badRequest(c, "GET", "/requests", start, requestID, err)
		return
	}

	requests, err := h.grabberService.Requests(ctx, from, to)
	if err != nil {
		h.upstreamError(c, "GET", "/requests", start, requestID, err)
		return
	}

	h.metrics.RecordHTTPRequest("GET", "/requests", "200", time.Since(start))
	c.JSON(http.StatusOK, gin.H{
		"data":       requests,
		"total":      len(requests),
		"request_id": requestID,
	})
}

// returns a statistics series; reported failures come back with status=false
func (h *HTTPHandlers) GetStats(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	ctx, requestID := h.requestContext(c)

	from, to, err := h.parseRange(c)
	if err != nil {
		h.badRequest(c, "GET", "/stats", start, requestID, err)
		return
	}

	result, err := h.grabberService.Stats(ctx, from, to, domain.StatKind(c.Param("kind")))
	if err != nil {
		h.badRequest(c, "GET", "/stats", start, requestID, err)
		return
	}

	status := http.StatusOK
	if !result.Status {
		status = http.StatusBadGateway
	}

	h.metrics.RecordHTTPRequest("GET", "/stats", strconv.Itoa(status), time.Since(start))
	c.JSON(status, gin.H{
		"result":     result,
		"request_id": requestID,
	})
}

// downloads a call recording into the audio directory
func (h *HTTPHandlers) DownloadRecording(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	ctx, requestID := h.requestContext(c)

	result := h.grabberService.Recording(ctx, c.Param("id"))

	status := http.StatusOK
	if !result.Status {
		status = http.StatusBadGateway
	}

	h.metrics.RecordHTTPRequest("POST", "/calls/record", strconv.Itoa(status), time.Since(start))
	c.JSON(status, gin.H{
		"result":     result,
		"request_id": requestID,
	})
}

// GetAPIInfo returns API v1 information and available endpoints
func (h *HTTPHandlers) GetAPIInfo(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	_, requestID := h.requestContext(c)

	rangeParams := gin.H{
		"from": "Optional: Start date (YYYY-MM-DD), default yesterday",
		"to":   "Optional: End date, exclusive (YYYY-MM-DD), default today",
	}

	apiInfo := gin.H{
		"api_version": "v1",
		"service":     "Calltouch ETL",
		"version":     "1.0.0",
		"description": "Loads Calltouch calls into the reporting database and proxies Calltouch reads",
		"endpoints": gin.H{
			"ingest": gin.H{
				"path":        "/api/v1/ingest/run",
				"methods":     []string{"POST"},
				"description": "Run the load over [from, to); repeated runs on the same day are skipped",
				"parameters":  rangeParams,
				"example":     "/api/v1/ingest/run?from=2025-01-01&to=2025-01-08",
			},
			"calls": gin.H{
				"path":        "/api/v1/calls",
				"methods":     []string{"GET"},
				"description": "Calls aggregated per campaign, or raw with raw=true",
				"parameters":  rangeParams,
			},
			"orders": gin.H{
				"path":       "/api/v1/orders",
				"methods":    []string{"GET"},
				"parameters": rangeParams,
			},
			"requests": gin.H{
				"path":       "/api/v1/requests",
				"methods":    []string{"GET"},
				"parameters": rangeParams,
			},
			"stats": gin.H{
				"path":    "/api/v1/stats/:kind",
				"methods": []string{"GET"},
				"kinds":   domain.StatKinds,
			},
			"record": gin.H{
				"path":    "/api/v1/calls/:id/record",
				"methods": []string{"POST"},
			},
		},
		"request_id": requestID,
	}

	h.metrics.RecordHTTPRequest("GET", "/api/v1", "200", time.Since(start))
	c.JSON(http.StatusOK, apiInfo)
}

// HealthCheck returns the health status of the service
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	start := time.Now()
	h.metrics.IncHTTPRequestsInFlight()
	defer h.metrics.DecHTTPRequestsInFlight()

	_, requestID := h.requestContext(c)

	health := gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"service":    "calltouch-etl",
		"version":    "1.0.0",
		"request_id": requestID,
	}

	h.metrics.RecordHTTPRequest("GET", "/health", "200", time.Since(start))
	c.JSON(http.StatusOK, health)
}

// reuses the id set by the RequestID middleware, or makes one
func (h *HTTPHandlers) requestContext(c *gin.Context) (context.Context, string) {
	requestID := c.GetString("request_id")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return context.WithValue(c.Request.Context(), logger.RequestIDKey, requestID), requestID
}

// parseRange reads from/to (YYYY-MM-DD), defaulting to [yesterday, today)
func (h *HTTPHandlers) parseRange(c *gin.Context) (from, to time.Time, err error) {
	from, to = usecase.DefaultRange(h.now())

	if fromStr := c.Query("from"); fromStr != "" {
		from, err = time.Parse(dateLayout, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be in YYYY-MM-DD format")
		}
	}

	if toStr := c.Query("to"); toStr != "" {
		to, err = time.Parse(dateLayout, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be in YYYY-MM-DD format")
		}
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("to must not be before from")
	}

	return from, to, nil
}

func (h *HTTPHandlers) badRequest(c *gin.Context, method, endpoint string, start time.Time, requestID string, err error) {
	h.metrics.RecordHTTPRequest(method, endpoint, "400", time.Since(start))
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      "Invalid parameters",
		"message":    err.Error(),
		"request_id": requestID,
	})
}

// upstreamError maps Calltouch failures to 502 and everything else to 500
func (h *HTTPHandlers) upstreamError(c *gin.Context, method, endpoint string, start time.Time, requestID string, err error) {
	status := http.StatusInternalServerError
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		status = http.StatusBadGateway
	}

	h.metrics.RecordHTTPRequest(method, endpoint, strconv.Itoa(status), time.Since(start))
	c.JSON(status, gin.H{
		"error":      "Calltouch request failed",
		"message":    err.Error(),
		"request_id": requestID,
	})
}
