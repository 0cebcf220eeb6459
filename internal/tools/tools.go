// Package tools exposes the metering toolkit as a named-tool catalog
// callable over HTTP or a stdio line protocol.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/felipepmaragno/tokenmeter/internal/cost"
	"github.com/felipepmaragno/tokenmeter/internal/domain"
	"github.com/felipepmaragno/tokenmeter/internal/ledger"
	"github.com/felipepmaragno/tokenmeter/internal/tokenizer"
)

// Args is the flat argument object of one tool call.
type Args map[string]any

// Dispatcher routes tool calls to the counting, tracking, and cost
// components.
type Dispatcher struct {
	counter *tokenizer.Counter
	tracker *ledger.Tracker
	costs   *cost.Engine
	log     *slog.Logger
}

func NewDispatcher(counter *tokenizer.Counter, tracker *ledger.Tracker, costs *cost.Engine, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		counter: counter,
		tracker: tracker,
		costs:   costs,
		log:     log,
	}
}

// Names lists the catalog in stable order.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type handler func(d *Dispatcher, ctx context.Context, args Args) (any, error)

var catalog = map[string]handler{
	"count_tokens":         (*Dispatcher).countTokens,
	"count_tokens_batch":   (*Dispatcher).countTokensBatch,
	"estimate_tokens":      (*Dispatcher).estimateTokens,
	"record_usage":         (*Dispatcher).recordUsage,
	"get_usage_stats":      (*Dispatcher).usageStats,
	"calculate_cost":       (*Dispatcher).calculateCost,
	"compare_models":       (*Dispatcher).compareModels,
	"get_pricing":          (*Dispatcher).getPricing,
	"estimate_project":     (*Dispatcher).estimateProject,
	"get_supported_models": (*Dispatcher).supportedModels,
	"reset_usage":          (*Dispatcher).resetUsage,
}

// Dispatch runs one named tool. Unknown names report the available
// catalog so callers can self-correct.
func (d *Dispatcher) Dispatch(ctx context.Context, tool string, args Args) (any, error) {
	h, ok := catalog[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)",
			domain.ErrUnknownTool, tool, strings.Join(d.Names(), ", "))
	}
	result, err := h(d, ctx, args)
	if err != nil {
		d.log.Warn("tool call failed", "tool", tool, "error", err)
		return nil, err
	}
	return result, nil
}

func (d *Dispatcher) countTokens(ctx context.Context, args Args) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	model := optStringArg(args, "model", "gpt-4")
	includeIDs, err := optBoolArg(args, "include_tokens")
	if err != nil {
		return nil, err
	}
	return d.counter.Count(text, model, includeIDs)
}

func (d *Dispatcher) countTokensBatch(ctx context.Context, args Args) (any, error) {
	texts, err := stringSliceArg(args, "texts")
	if err != nil {
		return nil, err
	}
	model := optStringArg(args, "model", "gpt-4")
	return d.counter.CountBatch(texts, model)
}

func (d *Dispatcher) estimateTokens(ctx context.Context, args Args) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"text":           truncateEcho(text),
		"estimatedCount": tokenizer.Estimate(text),
		"method":         "chars/4",
	}, nil
}

func (d *Dispatcher) recordUsage(ctx context.Context, args Args) (any, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return nil, err
	}
	input, err := intArg(args, "input_tokens")
	if err != nil {
		return nil, err
	}
	output, err := intArg(args, "output_tokens")
	if err != nil {
		return nil, err
	}
	requestID := optStringArg(args, "request_id", "")

	record, err := d.tracker.Record(model, input, output, requestID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"recorded":  record,
		"sessionId": d.tracker.SessionID(),
	}, nil
}

func (d *Dispatcher) usageStats(ctx context.Context, args Args) (any, error) {
	return map[string]any{
		"sessionId": d.tracker.SessionID(),
		"stats":     d.tracker.Stats(),
	}, nil
}

func (d *Dispatcher) calculateCost(ctx context.Context, args Args) (any, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return nil, err
	}
	input, err := intArg(args, "input_tokens")
	if err != nil {
		return nil, err
	}
	output, err := intArg(args, "output_tokens")
	if err != nil {
		return nil, err
	}
	return d.costs.Calculate(model, input, output)
}

func (d *Dispatcher) compareModels(ctx context.Context, args Args) (any, error) {
	input, err := intArg(args, "input_tokens")
	if err != nil {
		return nil, err
	}
	output, err := intArg(args, "output_tokens")
	if err != nil {
		return nil, err
	}
	var models []string
	if _, ok := args["models"]; ok {
		models, err = stringSliceArg(args, "models")
		if err != nil {
			return nil, err
		}
	}
	return d.costs.Compare(input, output, models)
}

func (d *Dispatcher) getPricing(ctx context.Context, args Args) (any, error) {
	// Without a model argument the whole table is returned.
	if _, ok := args["model"]; !ok {
		return d.costs.Entries(), nil
	}
	model, err := stringArg(args, "model")
	if err != nil {
		return nil, err
	}
	return d.costs.Pricing(model), nil
}

func (d *Dispatcher) estimateProject(ctx context.Context, args Args) (any, error) {
	model, err := stringArg(args, "model")
	if err != nil {
		return nil, err
	}
	dailyInput, err := intArg(args, "daily_input_tokens")
	if err != nil {
		return nil, err
	}
	dailyOutput, err := intArg(args, "daily_output_tokens")
	if err != nil {
		return nil, err
	}
	days, err := optIntArg(args, "days", 0)
	if err != nil {
		return nil, err
	}
	return d.costs.EstimateProject(model, dailyInput, dailyOutput, days)
}

func (d *Dispatcher) supportedModels(ctx context.Context, args Args) (any, error) {
	priced := d.costs.Models()
	return map[string]any{
		"pricedModels":    priced,
		"tokenizerModels": tokenizer.SupportedModels(),
		"count":           len(priced),
	}, nil
}

func (d *Dispatcher) resetUsage(ctx context.Context, args Args) (any, error) {
	d.tracker.Reset()
	return map[string]any{
		"reset":     true,
		"sessionId": d.tracker.SessionID(),
	}, nil
}

func truncateEcho(text string) string {
	runes := []rune(text)
	if len(runes) <= 100 {
		return text
	}
	return string(runes[:100]) + "..."
}

// Argument extraction. Tool args arrive as decoded JSON, so numbers
// are float64 and need an integral check.

func stringArg(args Args, name string) (string, error) {
	raw, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrMissingArgument, name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", domain.ErrInvalidArgument, name)
	}
	return s, nil
}

func optStringArg(args Args, name, fallback string) string {
	if s, ok := args[name].(string); ok && s != "" {
		return s
	}
	return fallback
}

func intArg(args Args, name string) (int, error) {
	raw, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrMissingArgument, name)
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidArgument, name)
	}
	return int(f), nil
}

func optIntArg(args Args, name string, fallback int) (int, error) {
	if _, ok := args[name]; !ok {
		return fallback, nil
	}
	return intArg(args, name)
}

func optBoolArg(args Args, name string) (bool, error) {
	raw, ok := args[name]
	if !ok {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", domain.ErrInvalidArgument, name)
	}
	return b, nil
}

func stringSliceArg(args Args, name string) ([]string, error) {
	raw, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingArgument, name)
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of strings", domain.ErrInvalidArgument, name)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an array of strings", domain.ErrInvalidArgument, name)
		}
		out = append(out, s)
	}
	return out, nil
}
