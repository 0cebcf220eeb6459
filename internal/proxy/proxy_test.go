package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/felipepmaragno/tokenmeter/internal/cost"
	"github.com/felipepmaragno/tokenmeter/internal/domain"
	"github.com/felipepmaragno/tokenmeter/internal/ledger"
	"github.com/felipepmaragno/tokenmeter/internal/pricing"
	"github.com/felipepmaragno/tokenmeter/internal/tokenizer"
	"github.com/felipepmaragno/tokenmeter/internal/tools"
)

// rewriteTransport sends every request to the test upstream,
// regardless of the host the proxy resolved.
type rewriteTransport struct {
	target *url.URL

	mu         sync.Mutex
	seenHosts  []string
	seenHeader http.Header
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.seenHosts = append(t.seenHosts, req.URL.Host)
	t.seenHeader = req.Header.Clone()
	t.mu.Unlock()

	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func (t *rewriteTransport) lastHost() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.seenHosts) == 0 {
		return ""
	}
	return t.seenHosts[len(t.seenHosts)-1]
}

func newTestProxy(t *testing.T, upstream *httptest.Server) (*Server, *ledger.Ledger, *rewriteTransport) {
	t.Helper()

	target, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	transport := &rewriteTransport{target: target}

	l := ledger.NewLedger(ledger.NewMemoryStore())
	s := NewServer(Config{
		Ledger: l,
		Costs:  cost.NewEngine(pricing.NewTable()),
		Client: &http.Client{Transport: transport},
	})
	return s, l, transport
}

func TestProxy_StreamingRelayAndCommit(t *testing.T) {
	chunks := []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\n\n",
		"data: {\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":34,\"total_tokens\":46}}\n\n",
		"data: [DONE]\n\n",
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprint(w, c)
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	s, l, _ := newTestProxy(t, upstream)

	body := strings.NewReader(`{"model":"gpt-4o","stream":true,"messages":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// Every chunk must arrive unmodified and in order, terminator
	// included.
	if got, want := rec.Body.String(), strings.Join(chunks, ""); got != want {
		t.Errorf("relayed body = %q, want exact upstream bytes %q", got, want)
	}

	records, err := l.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("committed records = %d, want exactly 1", len(records))
	}
	r := records[0]
	if r.InputTokens != 12 || r.OutputTokens != 34 || r.TotalTokens != 46 {
		t.Errorf("committed usage = %d/%d/%d, want final chunk's 12/34/46",
			r.InputTokens, r.OutputTokens, r.TotalTokens)
	}
	if r.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", r.Model)
	}

	total, _, err := l.TotalStats(context.Background())
	if err != nil {
		t.Fatalf("TotalStats: %v", err)
	}
	if total.TotalCost <= 0 {
		t.Errorf("TotalCost = %v, want positive", total.TotalCost)
	}
}

// disconnectingWriter simulates a client that hangs up after
// receiving the first chunk: the request context is canceled and
// further writes fail.
type disconnectingWriter struct {
	*httptest.ResponseRecorder
	cancel context.CancelFunc
	writes int
}

func (w *disconnectingWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > 1 {
		return 0, errors.New("connection reset by peer")
	}
	w.cancel()
	return w.ResponseRecorder.Write(p)
}

func TestProxy_ClientDisconnectMidStreamCommitsNothing(t *testing.T) {
	// Usage arrives in the very first chunk, so a broken cancellation
	// guard would have nonzero counts to commit.
	firstChunk := "data: {\"usage\":{\"prompt_tokens\":9,\"completion_tokens\":9}}\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, firstChunk)
		w.(http.Flusher).Flush()
		// Keep the stream open until the proxy aborts it.
		<-r.Context().Done()
	}))
	defer upstream.Close()

	s, l, _ := newTestProxy(t, upstream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","stream":true}`)).WithContext(ctx)
	rec := &disconnectingWriter{ResponseRecorder: httptest.NewRecorder(), cancel: cancel}
	s.ServeHTTP(rec, req)

	// Bytes received before the disconnect were relayed untouched.
	if got := rec.Body.String(); got != firstChunk {
		t.Errorf("relayed body = %q, want first chunk %q", got, firstChunk)
	}

	records, err := l.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want none after client disconnect", len(records))
	}

	total, _, err := l.TotalStats(context.Background())
	if err != nil {
		t.Fatalf("TotalStats: %v", err)
	}
	if total.RequestCount != 0 || total.TotalTokens != 0 {
		t.Errorf("totals = %+v, want zeros after aborted stream", total)
	}
}

func TestProxy_NonStreamingRelayAndCommit(t *testing.T) {
	upstreamBody := `{"id":"cmpl-1","model":"gpt-4o","choices":[{"message":{"content":"hi"}}],` +
		`"usage":{"prompt_tokens":100,"completion_tokens":50,"total_tokens":150}}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, upstreamBody)
	}))
	defer upstream.Close()

	s, l, _ := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o","messages":[]}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != upstreamBody {
		t.Errorf("body modified in transit:\n got %q\nwant %q", rec.Body.String(), upstreamBody)
	}

	records, _ := l.History(context.Background(), 0)
	if len(records) != 1 {
		t.Fatalf("committed records = %d, want 1", len(records))
	}
	if records[0].InputTokens != 100 || records[0].OutputTokens != 50 {
		t.Errorf("usage = %d/%d, want 100/50", records[0].InputTokens, records[0].OutputTokens)
	}
}

func TestProxy_NoUsageNoCommit(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	}))
	defer upstream.Close()

	s, l, _ := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if records, _ := l.History(context.Background(), 0); len(records) != 0 {
		t.Errorf("records = %d, want none for usage-free response", len(records))
	}
}

func TestProxy_UpstreamErrorStatusRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer upstream.Close()

	s, l, _ := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want upstream's 429 passed through", rec.Code)
	}
	if records, _ := l.History(context.Background(), 0); len(records) != 0 {
		t.Errorf("records = %d, want none", len(records))
	}
}

func TestProxy_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // connection refused from here on

	s, _, _ := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if payload["error"] != "upstream_error" || payload["message"] == "" {
		t.Errorf("error payload = %v, want error and message fields", payload)
	}
}

func TestProxy_TargetHostHeaderWins(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer upstream.Close()

	s, _, transport := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"claude-3-opus"}`))
	req.Header.Set("x-target-host", "api.anthropic.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if got := transport.lastHost(); got != "api.anthropic.com" {
		t.Errorf("routed host = %q, want header override api.anthropic.com", got)
	}
	if transport.seenHeader.Get("x-target-host") != "" {
		t.Error("routing header must not be forwarded upstream")
	}
}

func TestProxy_DefaultRouting(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer upstream.Close()

	tests := []struct {
		path     string
		wantHost string
	}{
		{"/v1/chat/completions", "api.openai.com"},
		{"/v1/messages", "api.anthropic.com"},
		{"/v1beta/models/gemini-1.5-flash:generateContent", "generativelanguage.googleapis.com"},
		{"/some/unknown/path", "api.openai.com"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			s, _, transport := newTestProxy(t, upstream)

			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			if got := transport.lastHost(); got != tt.wantHost {
				t.Errorf("routed host = %q, want %q", got, tt.wantHost)
			}
		})
	}
}

func TestProxy_StatsEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"gpt-4o","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	}))
	defer upstream.Close()

	s, _, _ := newTestProxy(t, upstream)

	proxyReq := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"gpt-4o"}`))
	s.ServeHTTP(httptest.NewRecorder(), proxyReq)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload struct {
		Total          domain.TotalStats        `json:"total"`
		Today          domain.DailyStats        `json:"today"`
		RecentRequests []domain.ProxyRequestLog `json:"recentRequests"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("stats body not JSON: %v", err)
	}
	if payload.Total.TotalTokens != 15 || payload.Total.RequestCount != 1 {
		t.Errorf("total = %+v, want 15 tokens over 1 request", payload.Total)
	}
	if len(payload.RecentRequests) != 1 {
		t.Fatalf("recentRequests = %d, want 1", len(payload.RecentRequests))
	}
	if payload.RecentRequests[0].Provider != "openai" {
		t.Errorf("provider = %q, want openai", payload.RecentRequests[0].Provider)
	}
}

func TestProxy_HistoryEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer upstream.Close()

	s, _, _ := newTestProxy(t, upstream)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
			strings.NewReader(`{"model":"gpt-4"}`))
		s.ServeHTTP(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=2", nil))

	var payload struct {
		Records []domain.UsageRecord `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("history body not JSON: %v", err)
	}
	if len(payload.Records) != 2 {
		t.Errorf("records = %d, want limit 2", len(payload.Records))
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/history?limit=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestProxy_HealthEndpoint(t *testing.T) {
	s := NewServer(Config{
		Ledger: ledger.NewLedger(ledger.NewMemoryStore()),
		Costs:  cost.NewEngine(pricing.NewTable()),
	})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var payload map[string]any
	json.Unmarshal(rec.Body.Bytes(), &payload)
	if payload["status"] != "ok" {
		t.Errorf("status field = %v, want ok", payload["status"])
	}
}

func TestProxy_PreflightCORS(t *testing.T) {
	s := NewServer(Config{
		Ledger: ledger.NewLedger(ledger.NewMemoryStore()),
		Costs:  cost.NewEngine(pricing.NewTable()),
	})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("preflight must carry CORS headers")
	}
}

func TestProxy_ToolCatalogMounted(t *testing.T) {
	dispatcher := tools.NewDispatcher(
		tokenizer.NewCounter(),
		ledger.NewTracker(""),
		cost.NewEngine(pricing.NewTable()),
		nil,
	)
	s := NewServer(Config{
		Ledger: ledger.NewLedger(ledger.NewMemoryStore()),
		Costs:  cost.NewEngine(pricing.NewTable()),
		Tools:  tools.NewHTTPHandler(dispatcher),
	})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tools/estimate_tokens",
		strings.NewReader(`{"text":"abcdefgh"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}
	var payload struct {
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if payload.Result["estimatedCount"] != float64(2) {
		t.Errorf("estimatedCount = %v, want 2", payload.Result["estimatedCount"])
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /tools status = %d, want 200", rec.Code)
	}
}

func TestRequestLog_CapAndOrder(t *testing.T) {
	r := newRequestLog(3)
	for i := 0; i < 5; i++ {
		r.push(domain.ProxyRequestLog{ID: fmt.Sprintf("req-%d", i), Timestamp: time.Now()})
	}

	snap := r.snapshot(0)
	if len(snap) != 3 {
		t.Fatalf("len = %d, want cap 3", len(snap))
	}
	// Most recent first; oldest two evicted.
	if snap[0].ID != "req-4" || snap[2].ID != "req-2" {
		t.Errorf("snapshot order = %s..%s, want req-4..req-2", snap[0].ID, snap[2].ID)
	}

	if got := r.snapshot(2); len(got) != 2 || got[0].ID != "req-4" {
		t.Errorf("snapshot(2) = %v, want 2 most recent", got)
	}
}
