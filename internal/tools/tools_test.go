package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/felipepmaragno/tokenmeter/internal/cost"
	"github.com/felipepmaragno/tokenmeter/internal/domain"
	"github.com/felipepmaragno/tokenmeter/internal/ledger"
	"github.com/felipepmaragno/tokenmeter/internal/pricing"
	"github.com/felipepmaragno/tokenmeter/internal/tokenizer"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(
		tokenizer.NewCounter(),
		ledger.NewTracker("test-session"),
		cost.NewEngine(pricing.NewTable()),
		nil,
	)
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := newTestDispatcher()

	_, err := d.Dispatch(context.Background(), "no_such_tool", Args{})
	if !errors.Is(err, domain.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
	// The error names the available catalog.
	if !strings.Contains(err.Error(), "count_tokens") || !strings.Contains(err.Error(), "reset_usage") {
		t.Errorf("error %q must list available tools", err)
	}
}

func TestDispatch_EstimateTokens(t *testing.T) {
	d := newTestDispatcher()

	result, err := d.Dispatch(context.Background(), "estimate_tokens", Args{"text": "abcdefgh"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	payload := result.(map[string]any)
	if payload["estimatedCount"] != 2 {
		t.Errorf("estimatedCount = %v, want 2 for 8 chars", payload["estimatedCount"])
	}
}

func TestDispatch_EstimateTokensEchoCapped(t *testing.T) {
	d := newTestDispatcher()

	long := strings.Repeat("x", 250)
	result, err := d.Dispatch(context.Background(), "estimate_tokens", Args{"text": long})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	echoed := result.(map[string]any)["text"].(string)
	if len(echoed) != 103 || !strings.HasSuffix(echoed, "...") {
		t.Errorf("echoed text len = %d, want 100 chars plus ellipsis", len(echoed))
	}
}

func TestDispatch_MissingArgument(t *testing.T) {
	d := newTestDispatcher()

	_, err := d.Dispatch(context.Background(), "estimate_tokens", Args{})
	if !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("err = %v, want ErrMissingArgument", err)
	}

	_, err = d.Dispatch(context.Background(), "calculate_cost", Args{"model": "gpt-4"})
	if !errors.Is(err, domain.ErrMissingArgument) {
		t.Errorf("err = %v, want ErrMissingArgument for absent token counts", err)
	}
}

func TestDispatch_InvalidArgument(t *testing.T) {
	d := newTestDispatcher()

	// JSON numbers decode to float64; non-integral values are rejected.
	_, err := d.Dispatch(context.Background(), "calculate_cost", Args{
		"model": "gpt-4", "input_tokens": 1.5, "output_tokens": float64(2),
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument for fractional tokens", err)
	}

	_, err = d.Dispatch(context.Background(), "estimate_tokens", Args{"text": 42.0})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument for non-string text", err)
	}
}

func TestDispatch_RecordAndStats(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "record_usage", Args{
		"model": "gpt-4", "input_tokens": float64(100), "output_tokens": float64(50),
	})
	if err != nil {
		t.Fatalf("record_usage: %v", err)
	}

	result, err := d.Dispatch(ctx, "get_usage_stats", Args{})
	if err != nil {
		t.Fatalf("get_usage_stats: %v", err)
	}
	payload := result.(map[string]any)
	stats := payload["stats"].(domain.UsageStats)
	if stats.TotalTokens != 150 || stats.RequestCount != 1 {
		t.Errorf("stats = %+v, want 150 tokens over 1 request", stats)
	}
	if payload["sessionId"] != "test-session" {
		t.Errorf("sessionId = %v, want test-session", payload["sessionId"])
	}
}

func TestDispatch_RecordNegativeTokens(t *testing.T) {
	d := newTestDispatcher()

	_, err := d.Dispatch(context.Background(), "record_usage", Args{
		"model": "gpt-4", "input_tokens": float64(-1), "output_tokens": float64(0),
	})
	if !errors.Is(err, domain.ErrNegativeTokens) {
		t.Errorf("err = %v, want ErrNegativeTokens", err)
	}
}

func TestDispatch_CalculateCost(t *testing.T) {
	d := newTestDispatcher()

	result, err := d.Dispatch(context.Background(), "calculate_cost", Args{
		"model": "gpt-4o", "input_tokens": float64(1_000_000), "output_tokens": float64(0),
	})
	if err != nil {
		t.Fatalf("calculate_cost: %v", err)
	}
	cr := result.(domain.CostResult)
	if cr.TotalCost != 2.5 {
		t.Errorf("TotalCost = %v, want 2.5 for 1M gpt-4o input tokens", cr.TotalCost)
	}
}

func TestDispatch_CompareModels(t *testing.T) {
	d := newTestDispatcher()

	result, err := d.Dispatch(context.Background(), "compare_models", Args{
		"input_tokens":  float64(1000),
		"output_tokens": float64(1000),
		"models":        []any{"gpt-4o", "gpt-4o-mini", "claude-3-haiku"},
	})
	if err != nil {
		t.Fatalf("compare_models: %v", err)
	}
	results := result.([]domain.CostResult)
	if len(results) != 3 {
		t.Fatalf("len = %d, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].TotalCost < results[i-1].TotalCost {
			t.Errorf("results not sorted ascending by TotalCost at index %d", i)
		}
	}
}

func TestDispatch_EstimateProject(t *testing.T) {
	d := newTestDispatcher()

	result, err := d.Dispatch(context.Background(), "estimate_project", Args{
		"model":               "gpt-4o",
		"daily_input_tokens":  float64(10000),
		"daily_output_tokens": float64(5000),
		"days":                float64(7),
	})
	if err != nil {
		t.Fatalf("estimate_project: %v", err)
	}
	est := result.(domain.ProjectEstimate)
	if est.Monthly.TotalCost != 30*est.Daily.TotalCost {
		t.Errorf("Monthly = %v, want fixed 30x daily %v", est.Monthly.TotalCost, est.Daily.TotalCost)
	}
}

func TestDispatch_GetPricing(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	result, err := d.Dispatch(ctx, "get_pricing", Args{"model": "gpt-4o"})
	if err != nil {
		t.Fatalf("get_pricing: %v", err)
	}
	entry := result.(domain.PricingEntry)
	if entry.InputPer1M != 2.5 {
		t.Errorf("InputPer1M = %v, want 2.5 for gpt-4o", entry.InputPer1M)
	}

	// No model argument returns the whole table.
	result, err = d.Dispatch(ctx, "get_pricing", Args{})
	if err != nil {
		t.Fatalf("get_pricing without model: %v", err)
	}
	table := result.(map[string]domain.PricingEntry)
	if len(table) == 0 {
		t.Fatal("full table must not be empty")
	}
	if _, ok := table["gpt-4o"]; !ok {
		t.Error("full table must contain gpt-4o")
	}
}

func TestDispatch_SupportedModels(t *testing.T) {
	d := newTestDispatcher()

	result, err := d.Dispatch(context.Background(), "get_supported_models", Args{})
	if err != nil {
		t.Fatalf("get_supported_models: %v", err)
	}
	payload := result.(map[string]any)
	priced := payload["pricedModels"].([]string)
	if len(priced) == 0 {
		t.Error("pricedModels must not be empty")
	}
	if payload["count"] != len(priced) {
		t.Errorf("count = %v, want %d", payload["count"], len(priced))
	}
}

func TestDispatch_ResetUsage(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	d.Dispatch(ctx, "record_usage", Args{
		"model": "gpt-4", "input_tokens": float64(1), "output_tokens": float64(1),
	})
	result, err := d.Dispatch(ctx, "reset_usage", Args{})
	if err != nil {
		t.Fatalf("reset_usage: %v", err)
	}
	if result.(map[string]any)["sessionId"] == "test-session" {
		t.Error("reset must issue a new session id")
	}

	stats, _ := d.Dispatch(ctx, "get_usage_stats", Args{})
	if s := stats.(map[string]any)["stats"].(domain.UsageStats); s.RequestCount != 0 {
		t.Errorf("RequestCount after reset = %d, want 0", s.RequestCount)
	}
}

func TestDispatch_CountTokens(t *testing.T) {
	if testing.Short() {
		t.Skip("tokenizer vocabulary download")
	}
	d := newTestDispatcher()

	result, err := d.Dispatch(context.Background(), "count_tokens", Args{
		"text": "Hello, world!", "model": "gpt-4",
	})
	if err != nil {
		t.Fatalf("count_tokens: %v", err)
	}
	cr := result.(tokenizer.CountResult)
	if cr.TokenCount <= 0 {
		t.Errorf("TokenCount = %d, want positive", cr.TokenCount)
	}
	if cr.Encoding != tokenizer.EncodingCL100K {
		t.Errorf("Encoding = %s, want cl100k_base", cr.Encoding)
	}
}
