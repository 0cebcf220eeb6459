package domain

import "time"

// PricingEntry describes what one model costs, in USD per one million
// tokens. Entries are immutable after table construction.
type PricingEntry struct {
	DisplayName   string  `json:"name"`
	InputPer1M    float64 `json:"inputPricePer1M"`
	OutputPer1M   float64 `json:"outputPricePer1M"`
	ContextWindow int     `json:"contextWindow"`
	Description   string  `json:"description,omitempty"`
}

// UsageRecord is one completed request's token usage. Records are
// immutable once created and append-only in every ledger.
type UsageRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	Model        string            `json:"model"`
	InputTokens  int               `json:"inputTokens"`
	OutputTokens int               `json:"outputTokens"`
	TotalTokens  int               `json:"totalTokens"`
	RequestID    string            `json:"requestId,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CostResult is a derived cost breakdown; all cost fields are rounded
// to 6 decimal places.
type CostResult struct {
	Model        string       `json:"model"`
	InputTokens  int          `json:"inputTokens"`
	OutputTokens int          `json:"outputTokens"`
	TotalTokens  int          `json:"totalTokens"`
	InputCost    float64      `json:"inputCost"`
	OutputCost   float64      `json:"outputCost"`
	TotalCost    float64      `json:"totalCost"`
	Currency     string       `json:"currency"`
	Pricing      PricingEntry `json:"pricing"`
}

// ProxyRequestLog is one entry of the proxy's bounded recent-request
// buffer.
type ProxyRequestLog struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Endpoint     string    `json:"endpoint"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	TotalTokens  int       `json:"totalTokens"`
	Cost         float64   `json:"cost"`
	LatencyMs    int64     `json:"latencyMs"`
	Status       int       `json:"status"`
}

// DailyStats accumulates usage for one calendar day, keyed by ISO
// date. Mutated only by the durable ledger's commit path.
type DailyStats struct {
	Date         string         `json:"date"`
	InputTokens  int            `json:"inputTokens"`
	OutputTokens int            `json:"outputTokens"`
	TotalTokens  int            `json:"totalTokens"`
	Cost         float64        `json:"cost"`
	RequestCount int            `json:"requestCount"`
	Models       map[string]int `json:"models"`
}

// TotalStats is the all-time accumulator, same mutation path as
// DailyStats.
type TotalStats struct {
	TotalInputTokens  int     `json:"totalInputTokens"`
	TotalOutputTokens int     `json:"totalOutputTokens"`
	TotalTokens       int     `json:"totalTokens"`
	TotalCost         float64 `json:"totalCost"`
	RequestCount      int     `json:"requestCount"`
}

// ModelStats is the per-model slice of a session's UsageStats.
type ModelStats struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
	RequestCount int `json:"requestCount"`
}

// UsageStats aggregates a session tracker's records.
type UsageStats struct {
	TotalInputTokens    int                   `json:"totalInputTokens"`
	TotalOutputTokens   int                   `json:"totalOutputTokens"`
	TotalTokens         int                   `json:"totalTokens"`
	RequestCount        int                   `json:"requestCount"`
	AverageTokensPerReq float64               `json:"averageTokensPerRequest"`
	FirstRequest        *time.Time            `json:"firstRequest"`
	LastRequest         *time.Time            `json:"lastRequest"`
	ByModel             map[string]ModelStats `json:"byModel"`
}

// ProjectEstimate is the output of the cost engine's project
// estimation. Monthly is always a fixed 30-day multiple of the daily
// volumes; Projected honors the caller-supplied horizon.
type ProjectEstimate struct {
	Daily     CostResult `json:"daily"`
	Monthly   CostResult `json:"monthly"`
	Projected CostResult `json:"projected"`
}
