// Package cost turns token counts into USD amounts using the pricing
// table. All calculations are pure functions over immutable pricing.
package cost

import (
	"fmt"
	"math"
	"sort"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
	"github.com/felipepmaragno/tokenmeter/internal/pricing"
)

const defaultProjectDays = 30

type Engine struct {
	table *pricing.Table
}

func NewEngine(table *pricing.Table) *Engine {
	return &Engine{table: table}
}

// Calculate computes the cost of a single request. Costs are rounded
// to 6 decimal places; zero tokens cost zero.
func (e *Engine) Calculate(model string, inputTokens, outputTokens int) (domain.CostResult, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return domain.CostResult{}, fmt.Errorf("calculate cost for %s: %w", model, domain.ErrNegativeTokens)
	}

	entry := e.table.Lookup(model)

	inputCost := float64(inputTokens) / 1_000_000 * entry.InputPer1M
	outputCost := float64(outputTokens) / 1_000_000 * entry.OutputPer1M

	return domain.CostResult{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		InputCost:    round6(inputCost),
		OutputCost:   round6(outputCost),
		TotalCost:    round6(inputCost + outputCost),
		Currency:     "USD",
		Pricing:      entry,
	}, nil
}

// Compare computes the cost of the same token volumes across models
// and returns results sorted ascending by total cost. A nil or empty
// model list compares every priced model; ties keep table declaration
// order.
func (e *Engine) Compare(inputTokens, outputTokens int, models []string) ([]domain.CostResult, error) {
	if len(models) == 0 {
		models = e.table.Models()
	}

	results := make([]domain.CostResult, 0, len(models))
	for _, model := range models {
		result, err := e.Calculate(model, inputTokens, outputTokens)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].TotalCost < results[j].TotalCost
	})
	return results, nil
}

// EstimateProject projects costs from daily token volumes. Monthly is
// always priced at exactly 30 days of volume regardless of days;
// Projected honors the requested horizon. days <= 0 defaults to 30.
func (e *Engine) EstimateProject(model string, dailyInput, dailyOutput, days int) (domain.ProjectEstimate, error) {
	if days <= 0 {
		days = defaultProjectDays
	}

	daily, err := e.Calculate(model, dailyInput, dailyOutput)
	if err != nil {
		return domain.ProjectEstimate{}, err
	}
	monthly, err := e.Calculate(model, dailyInput*defaultProjectDays, dailyOutput*defaultProjectDays)
	if err != nil {
		return domain.ProjectEstimate{}, err
	}
	projected, err := e.Calculate(model, dailyInput*days, dailyOutput*days)
	if err != nil {
		return domain.ProjectEstimate{}, err
	}

	return domain.ProjectEstimate{
		Daily:     daily,
		Monthly:   monthly,
		Projected: projected,
	}, nil
}

// Models lists every priced model id in table order.
func (e *Engine) Models() []string {
	return e.table.Models()
}

// Pricing returns the table entry resolved for a model.
func (e *Engine) Pricing(model string) domain.PricingEntry {
	return e.table.Lookup(model)
}

// Entries returns the whole pricing table keyed by model id.
func (e *Engine) Entries() map[string]domain.PricingEntry {
	return e.table.Entries()
}

func round6(v float64) float64 {
	return math.Round(v*1_000_000) / 1_000_000
}
