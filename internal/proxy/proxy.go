// Package proxy implements the transparent metering proxy. Requests
// are forwarded to the upstream provider byte-for-byte; token usage is
// read out of the response on the side and committed to the ledger
// after the response has been fully delivered.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/felipepmaragno/tokenmeter/internal/cost"
	"github.com/felipepmaragno/tokenmeter/internal/domain"
	"github.com/felipepmaragno/tokenmeter/internal/httputil"
	"github.com/felipepmaragno/tokenmeter/internal/ledger"
	"github.com/felipepmaragno/tokenmeter/internal/metrics"
	"github.com/felipepmaragno/tokenmeter/internal/telemetry"
)

const (
	targetHostHeader = "x-target-host"
	recentCapacity   = 100
	statsRecentLimit = 20
)

// Recorder archives committed request logs. Optional; satisfied by
// the postgres archive.
type Recorder interface {
	Record(ctx context.Context, entry domain.ProxyRequestLog) error
}

type Config struct {
	Ledger  *ledger.Ledger
	Costs   *cost.Engine
	Archive Recorder
	Client  *http.Client
	Logger  *slog.Logger

	// Tools, when set, serves the tool catalog on /tools alongside
	// the proxy's own endpoints.
	Tools http.Handler
}

// Server is the proxy's HTTP handler: a handful of local endpoints
// plus a catch-all forwarder for everything else.
type Server struct {
	mux     *http.ServeMux
	ledger  *ledger.Ledger
	costs   *cost.Engine
	archive Recorder
	client  *http.Client
	log     *slog.Logger
	recent  *requestLog
	started time.Time
	newID   func() string
}

func NewServer(cfg Config) *Server {
	if cfg.Client == nil {
		cfg.Client = httputil.DefaultClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mux:     http.NewServeMux(),
		ledger:  cfg.Ledger,
		costs:   cfg.Costs,
		archive: cfg.Archive,
		client:  cfg.Client,
		log:     cfg.Logger,
		recent:  newRequestLog(recentCapacity),
		started: time.Now(),
		newID:   func() string { return uuid.New().String() },
	}

	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	if cfg.Tools != nil {
		s.mux.Handle("GET /tools", cfg.Tools)
		s.mux.Handle("POST /tools/{name}", cfg.Tools)
	}
	s.mux.HandleFunc("OPTIONS /", s.handlePreflight)
	s.mux.HandleFunc("/", s.handleProxy)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	writeCORS(w)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	daily, err := s.ledger.DailyStats(ctx, r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger_error", err)
		return
	}
	total, updated, err := s.ledger.TotalStats(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger_error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"today":          daily,
		"total":          total,
		"lastUpdated":    updated,
		"recentRequests": s.recent.snapshot(statsRecentLimit),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_limit",
				fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	records, err := s.ledger.History(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "ledger_error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleProxy forwards everything that is not a local endpoint.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read_body", err)
		return
	}
	r.Body.Close()

	targetHost := r.Header.Get(targetHostHeader)
	path := r.URL.RequestURI()

	provider := detectProvider(targetHost, path)
	host := targetHost
	if host == "" {
		// No explicit target: route by path shape, OpenAI by default.
		if provider == ProviderUnknown {
			provider = ProviderOpenAI
		}
		host = provider.Host()
	}

	model := requestModel(body, provider)
	streaming := bytes.Contains(body, []byte(`"stream":true`)) ||
		bytes.Contains(body, []byte(`"stream": true`))

	requestID := s.newID()
	ctx, span := telemetry.StartSpan(r.Context(), "proxy.forward")
	defer span.End()
	telemetry.AddRequestAttributes(span, provider.String(), model, requestID)

	upstream, err := http.NewRequestWithContext(ctx, r.Method, "https://"+host+path, bytes.NewReader(body))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "upstream_error", err)
		return
	}
	copyRequestHeaders(upstream.Header, r.Header)

	resp, err := s.client.Do(upstream)
	if err != nil {
		metrics.RecordUpstreamError(provider.String(), "connect")
		telemetry.AddErrorAttribute(span, err)
		s.log.Error("upstream request failed",
			"provider", provider.String(), "host", host, "error", err)
		s.writeError(w, http.StatusBadGateway, "upstream_error",
			fmt.Errorf("forward to %s: %w", host, domain.ErrUpstream))
		return
	}
	defer resp.Body.Close()

	req := proxiedRequest{
		id:        requestID,
		provider:  provider,
		endpoint:  path,
		model:     model,
		start:     start,
		status:    resp.StatusCode,
		span:      span,
		clientCtx: ctx,
	}

	if streaming {
		s.relayStream(w, resp, req)
	} else {
		s.relayBuffered(w, resp, req)
	}
}

// proxiedRequest carries one forwarded request through relay and
// commit. clientCtx derives from the inbound request's context (with
// the span attached), so its Err() reports client disconnects.
type proxiedRequest struct {
	id        string
	provider  Provider
	endpoint  string
	model     string
	start     time.Time
	status    int
	span      trace.Span
	clientCtx context.Context
}

// relayBuffered handles non-streaming responses: read the whole body,
// extract usage, then deliver it unchanged.
func (s *Server) relayBuffered(w http.ResponseWriter, resp *http.Response, req proxiedRequest) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordUpstreamError(req.provider.String(), "read_body")
		s.writeError(w, http.StatusBadGateway, "upstream_error", err)
		return
	}

	usage := req.provider.ExtractUsage(body, req.model)

	copyResponseHeaders(w.Header(), resp.Header)
	writeCORS(w)
	w.WriteHeader(resp.StatusCode)
	w.Write(body)

	metrics.RecordRequest(req.provider.String(), usage.Model, strconv.Itoa(resp.StatusCode),
		time.Since(req.start).Seconds())

	if usage.TotalTokens > 0 {
		s.commitUsage(req, usage)
	}
}

// relayStream forwards chunks as they arrive, flushing each one, while
// the scanner watches the same bytes for usage. Nothing is committed
// unless the stream ends cleanly with the client still connected.
func (s *Server) relayStream(w http.ResponseWriter, resp *http.Response, req proxiedRequest) {
	metrics.IncrementActiveStreams()
	defer metrics.DecrementActiveStreams()

	copyResponseHeaders(w.Header(), resp.Header)
	writeCORS(w)
	w.WriteHeader(resp.StatusCode)

	flusher, canFlush := w.(http.Flusher)
	scanner := newUsageScanner(req.provider)

	var completed bool
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				// Client went away; the deferred body close aborts the
				// upstream read.
				break
			}
			if canFlush {
				flusher.Flush()
			}
			scanner.Feed(buf[:n])
		}
		if readErr == io.EOF {
			completed = true
			break
		}
		if readErr != nil {
			metrics.RecordUpstreamError(req.provider.String(), "stream_read")
			s.log.Warn("stream interrupted",
				"provider", req.provider.String(), "error", readErr)
			break
		}
	}

	metrics.RecordRequest(req.provider.String(), req.model, strconv.Itoa(resp.StatusCode),
		time.Since(req.start).Seconds())

	if !completed || req.clientCtx.Err() != nil {
		return
	}

	input, output := scanner.Usage()
	if input+output == 0 {
		return
	}
	s.commitUsage(req, Usage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
		Model:        req.model,
	})
}

// commitUsage runs the full accounting path for one delivered
// response: cost, durable ledger, recent-request ring, metrics, trace
// attributes, and the optional archive. Accounting failures are logged
// but never surfaced to the client, whose response is already gone.
func (s *Server) commitUsage(req proxiedRequest, usage Usage) {
	// The response is delivered; accounting proceeds even if the
	// client hangs up right after.
	ctx := context.WithoutCancel(req.clientCtx)

	// Prefer the provider-assigned response id for the record.
	requestID := usage.RequestID
	if requestID == "" {
		requestID = req.id
	}

	var costUSD float64
	if result, err := s.costs.Calculate(usage.Model, usage.InputTokens, usage.OutputTokens); err == nil {
		costUSD = result.TotalCost
	} else {
		s.log.Warn("cost calculation failed", "model", usage.Model, "error", err)
	}

	now := time.Now().UTC()
	record := domain.UsageRecord{
		Timestamp:    now,
		Model:        usage.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		RequestID:    requestID,
		Metadata: map[string]string{
			"provider": req.provider.String(),
			"endpoint": req.endpoint,
		},
	}

	if err := s.ledger.Commit(ctx, record, costUSD); err != nil {
		metrics.RecordCommitFailure()
		s.log.Error("ledger commit failed", "request_id", requestID, "error", err)
	}

	entry := domain.ProxyRequestLog{
		ID:           requestID,
		Timestamp:    now,
		Provider:     req.provider.String(),
		Endpoint:     req.endpoint,
		Model:        usage.Model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		Cost:         costUSD,
		LatencyMs:    time.Since(req.start).Milliseconds(),
		Status:       req.status,
	}
	s.recent.push(entry)

	metrics.RecordTokens(req.provider.String(), usage.Model, usage.InputTokens, usage.OutputTokens)
	metrics.RecordCost(req.provider.String(), usage.Model, costUSD)
	telemetry.AddTokenAttributes(req.span, usage.InputTokens, usage.OutputTokens)
	telemetry.AddCostAttribute(req.span, costUSD)

	if s.archive != nil {
		if err := s.archive.Record(ctx, entry); err != nil {
			s.log.Warn("archive insert failed", "request_id", requestID, "error", err)
		}
	}

	s.log.Info("usage committed",
		"request_id", requestID,
		"trace_id", telemetry.GetTraceID(ctx),
		"provider", req.provider.String(),
		"model", usage.Model,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"cost_usd", costUSD,
		"latency_ms", entry.LatencyMs,
	)
}

// copyRequestHeaders forwards client headers minus the ones the proxy
// owns. Accept-Encoding is dropped so the transport negotiates and
// transparently decodes compression, keeping the body parseable.
func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		switch strings.ToLower(key) {
		case "host", "content-length", "accept-encoding", targetHostHeader:
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for key, values := range src {
		switch strings.ToLower(key) {
		case "content-length", "transfer-encoding", "connection":
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func writeCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	writeCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": err.Error(),
	})
}
