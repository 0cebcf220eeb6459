// Package pricing holds the static model pricing table. Prices are in
// USD per one million tokens. Lookup never fails: unknown models fall
// back to a synthesized default entry.
package pricing

import (
	"strings"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
)

// DefaultEntry is the pricing applied to models absent from the table.
var DefaultEntry = domain.PricingEntry{
	InputPer1M:    1.00,
	OutputPer1M:   2.00,
	ContextWindow: 8192,
	Description:   "Unknown model - using default pricing",
}

type tableRow struct {
	key   string
	entry domain.PricingEntry
}

// Substring fallback scans rows in declaration order, so matches are
// deterministic across runs.
var rows = []tableRow{
	// OpenAI
	{"gpt-4o", domain.PricingEntry{DisplayName: "GPT-4o", InputPer1M: 2.50, OutputPer1M: 10.00, ContextWindow: 128000, Description: "Most capable multimodal GPT-4 model"}},
	{"gpt-4o-mini", domain.PricingEntry{DisplayName: "GPT-4o Mini", InputPer1M: 0.15, OutputPer1M: 0.60, ContextWindow: 128000, Description: "Affordable small GPT-4o variant"}},
	{"chatgpt-4o-latest", domain.PricingEntry{DisplayName: "ChatGPT-4o Latest", InputPer1M: 5.00, OutputPer1M: 15.00, ContextWindow: 128000, Description: "Latest ChatGPT model"}},
	{"gpt-4-turbo", domain.PricingEntry{DisplayName: "GPT-4 Turbo", InputPer1M: 10.00, OutputPer1M: 30.00, ContextWindow: 128000, Description: "GPT-4 with 128K context"}},
	{"gpt-4", domain.PricingEntry{DisplayName: "GPT-4", InputPer1M: 30.00, OutputPer1M: 60.00, ContextWindow: 8192, Description: "Original GPT-4 8K model"}},
	{"gpt-4-32k", domain.PricingEntry{DisplayName: "GPT-4 32K", InputPer1M: 60.00, OutputPer1M: 120.00, ContextWindow: 32768, Description: "GPT-4 with 32K context"}},
	{"gpt-3.5-turbo", domain.PricingEntry{DisplayName: "GPT-3.5 Turbo", InputPer1M: 0.50, OutputPer1M: 1.50, ContextWindow: 16385, Description: "Fast and affordable"}},
	{"gpt-3.5-turbo-instruct", domain.PricingEntry{DisplayName: "GPT-3.5 Turbo Instruct", InputPer1M: 1.50, OutputPer1M: 2.00, ContextWindow: 4096, Description: "Instruction-tuned GPT-3.5"}},
	{"o1", domain.PricingEntry{DisplayName: "o1", InputPer1M: 15.00, OutputPer1M: 60.00, ContextWindow: 200000, Description: "OpenAI reasoning model"}},
	{"o1-mini", domain.PricingEntry{DisplayName: "o1 Mini", InputPer1M: 3.00, OutputPer1M: 12.00, ContextWindow: 128000, Description: "Smaller o1 variant"}},
	{"o3-mini", domain.PricingEntry{DisplayName: "o3 Mini", InputPer1M: 1.10, OutputPer1M: 4.40, ContextWindow: 200000, Description: "Latest reasoning model"}},
	{"text-embedding-3-large", domain.PricingEntry{DisplayName: "Embedding 3 Large", InputPer1M: 0.13, OutputPer1M: 0.00, ContextWindow: 8191, Description: "Best embedding model"}},
	{"text-embedding-3-small", domain.PricingEntry{DisplayName: "Embedding 3 Small", InputPer1M: 0.02, OutputPer1M: 0.00, ContextWindow: 8191, Description: "Affordable embedding model"}},

	// Anthropic
	{"claude-3-5-sonnet-20241022", domain.PricingEntry{DisplayName: "Claude 3.5 Sonnet (Oct 2024)", InputPer1M: 3.00, OutputPer1M: 15.00, ContextWindow: 200000, Description: "Latest Claude 3.5 Sonnet"}},
	{"claude-3.5-sonnet", domain.PricingEntry{DisplayName: "Claude 3.5 Sonnet", InputPer1M: 3.00, OutputPer1M: 15.00, ContextWindow: 200000, Description: "Best Claude for most tasks"}},
	{"claude-3-5-haiku-20241022", domain.PricingEntry{DisplayName: "Claude 3.5 Haiku", InputPer1M: 0.80, OutputPer1M: 4.00, ContextWindow: 200000, Description: "Fast and affordable Claude 3.5"}},
	{"claude-3.5-haiku", domain.PricingEntry{DisplayName: "Claude 3.5 Haiku", InputPer1M: 0.80, OutputPer1M: 4.00, ContextWindow: 200000, Description: "Fast and affordable Claude 3.5"}},
	{"claude-3-opus", domain.PricingEntry{DisplayName: "Claude 3 Opus", InputPer1M: 15.00, OutputPer1M: 75.00, ContextWindow: 200000, Description: "Most powerful Claude 3"}},
	{"claude-3-sonnet", domain.PricingEntry{DisplayName: "Claude 3 Sonnet", InputPer1M: 3.00, OutputPer1M: 15.00, ContextWindow: 200000, Description: "Balanced Claude 3"}},
	{"claude-3-haiku", domain.PricingEntry{DisplayName: "Claude 3 Haiku", InputPer1M: 0.25, OutputPer1M: 1.25, ContextWindow: 200000, Description: "Fast Claude 3"}},
	{"claude-2.1", domain.PricingEntry{DisplayName: "Claude 2.1", InputPer1M: 8.00, OutputPer1M: 24.00, ContextWindow: 200000, Description: "Legacy Claude 2.1"}},
	{"claude-2", domain.PricingEntry{DisplayName: "Claude 2", InputPer1M: 8.00, OutputPer1M: 24.00, ContextWindow: 100000, Description: "Legacy Claude 2"}},
	{"claude-instant-1.2", domain.PricingEntry{DisplayName: "Claude Instant 1.2", InputPer1M: 0.80, OutputPer1M: 2.40, ContextWindow: 100000, Description: "Fast legacy Claude"}},

	// Google
	{"gemini-2.0-flash-exp", domain.PricingEntry{DisplayName: "Gemini 2.0 Flash Exp", InputPer1M: 0.00, OutputPer1M: 0.00, ContextWindow: 1000000, Description: "Experimental Gemini 2.0 (Free)"}},
	{"gemini-1.5-pro", domain.PricingEntry{DisplayName: "Gemini 1.5 Pro", InputPer1M: 1.25, OutputPer1M: 5.00, ContextWindow: 2000000, Description: "Most capable Gemini"}},
	{"gemini-1.5-flash", domain.PricingEntry{DisplayName: "Gemini 1.5 Flash", InputPer1M: 0.075, OutputPer1M: 0.30, ContextWindow: 1000000, Description: "Fast Gemini model"}},
	{"gemini-1.5-flash-8b", domain.PricingEntry{DisplayName: "Gemini 1.5 Flash 8B", InputPer1M: 0.0375, OutputPer1M: 0.15, ContextWindow: 1000000, Description: "Smallest Gemini 1.5"}},
	{"gemini-pro", domain.PricingEntry{DisplayName: "Gemini Pro", InputPer1M: 0.50, OutputPer1M: 1.50, ContextWindow: 32760, Description: "Legacy Gemini Pro"}},

	// Meta Llama (via API providers)
	{"llama-3.3-70b", domain.PricingEntry{DisplayName: "Llama 3.3 70B", InputPer1M: 0.59, OutputPer1M: 0.79, ContextWindow: 128000, Description: "Latest Llama model"}},
	{"llama-3.1-405b", domain.PricingEntry{DisplayName: "Llama 3.1 405B", InputPer1M: 3.00, OutputPer1M: 3.00, ContextWindow: 128000, Description: "Largest open model"}},
	{"llama-3.1-70b", domain.PricingEntry{DisplayName: "Llama 3.1 70B", InputPer1M: 0.59, OutputPer1M: 0.79, ContextWindow: 128000, Description: "Large Llama 3.1"}},
	{"llama-3.1-8b", domain.PricingEntry{DisplayName: "Llama 3.1 8B", InputPer1M: 0.05, OutputPer1M: 0.08, ContextWindow: 128000, Description: "Small Llama 3.1"}},
	{"codellama-70b", domain.PricingEntry{DisplayName: "Code Llama 70B", InputPer1M: 0.70, OutputPer1M: 0.90, ContextWindow: 16384, Description: "Coding-focused Llama"}},

	// Mistral
	{"mistral-large", domain.PricingEntry{DisplayName: "Mistral Large", InputPer1M: 2.00, OutputPer1M: 6.00, ContextWindow: 128000, Description: "Most capable Mistral"}},
	{"mistral-small", domain.PricingEntry{DisplayName: "Mistral Small", InputPer1M: 0.20, OutputPer1M: 0.60, ContextWindow: 128000, Description: "Affordable Mistral"}},
	{"mistral-7b", domain.PricingEntry{DisplayName: "Mistral 7B", InputPer1M: 0.04, OutputPer1M: 0.04, ContextWindow: 32768, Description: "Open-source Mistral 7B"}},
	{"mixtral-8x7b", domain.PricingEntry{DisplayName: "Mixtral 8x7B", InputPer1M: 0.24, OutputPer1M: 0.24, ContextWindow: 32768, Description: "MoE model - 46.7B params"}},
	{"codestral", domain.PricingEntry{DisplayName: "Codestral", InputPer1M: 0.20, OutputPer1M: 0.60, ContextWindow: 32000, Description: "Coding-focused Mistral"}},

	// Cohere
	{"command-r-plus", domain.PricingEntry{DisplayName: "Command R+", InputPer1M: 2.50, OutputPer1M: 10.00, ContextWindow: 128000, Description: "Most capable Cohere model"}},
	{"command-r", domain.PricingEntry{DisplayName: "Command R", InputPer1M: 0.15, OutputPer1M: 0.60, ContextWindow: 128000, Description: "Balanced Cohere model"}},

	// DeepSeek
	{"deepseek-chat", domain.PricingEntry{DisplayName: "DeepSeek Chat", InputPer1M: 0.14, OutputPer1M: 0.28, ContextWindow: 64000, Description: "Affordable DeepSeek model"}},
	{"deepseek-v3", domain.PricingEntry{DisplayName: "DeepSeek V3", InputPer1M: 0.27, OutputPer1M: 1.10, ContextWindow: 64000, Description: "Latest DeepSeek model"}},

	// Alibaba Qwen
	{"qwen-max", domain.PricingEntry{DisplayName: "Qwen Max", InputPer1M: 2.40, OutputPer1M: 2.40, ContextWindow: 32000, Description: "Most capable Qwen"}},
	{"qwen-plus", domain.PricingEntry{DisplayName: "Qwen Plus", InputPer1M: 0.80, OutputPer1M: 0.80, ContextWindow: 131072, Description: "Balanced Qwen model"}},

	// xAI
	{"grok-2", domain.PricingEntry{DisplayName: "Grok 2", InputPer1M: 2.00, OutputPer1M: 10.00, ContextWindow: 131072, Description: "xAI flagship model"}},
	{"grok-beta", domain.PricingEntry{DisplayName: "Grok Beta", InputPer1M: 5.00, OutputPer1M: 15.00, ContextWindow: 131072, Description: "Grok beta version"}},

	// Amazon
	{"amazon-nova-pro", domain.PricingEntry{DisplayName: "Amazon Nova Pro", InputPer1M: 0.80, OutputPer1M: 3.20, ContextWindow: 300000, Description: "Capable Nova model"}},
	{"amazon-nova-lite", domain.PricingEntry{DisplayName: "Amazon Nova Lite", InputPer1M: 0.06, OutputPer1M: 0.24, ContextWindow: 300000, Description: "Fast Nova model"}},
	{"amazon-nova-micro", domain.PricingEntry{DisplayName: "Amazon Nova Micro", InputPer1M: 0.035, OutputPer1M: 0.14, ContextWindow: 128000, Description: "Cheapest Nova model"}},
}

// Table maps lower-cased model identifiers to pricing entries while
// preserving declaration order for the substring fallback.
type Table struct {
	keys    []string
	entries map[string]domain.PricingEntry
}

// NewTable builds the pricing table from the built-in data.
func NewTable() *Table {
	t := &Table{
		keys:    make([]string, 0, len(rows)),
		entries: make(map[string]domain.PricingEntry, len(rows)),
	}
	for _, r := range rows {
		key := strings.ToLower(r.key)
		if _, dup := t.entries[key]; dup {
			continue
		}
		t.keys = append(t.keys, key)
		t.entries[key] = r.entry
	}
	return t
}

// Lookup resolves pricing for a model: exact case-insensitive match,
// then the first declared entry whose key is contained in the queried
// id, then the default entry. Never fails.
func (t *Table) Lookup(model string) domain.PricingEntry {
	lower := strings.ToLower(model)

	if entry, ok := t.entries[lower]; ok {
		return entry
	}

	for _, key := range t.keys {
		if strings.Contains(lower, key) {
			return t.entries[key]
		}
	}

	entry := DefaultEntry
	entry.DisplayName = model
	return entry
}

// Known reports whether the model has a table entry, via exact or
// substring match.
func (t *Table) Known(model string) bool {
	lower := strings.ToLower(model)
	if _, ok := t.entries[lower]; ok {
		return true
	}
	for _, key := range t.keys {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// Models returns all priced model ids in declaration order.
func (t *Table) Models() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Entries returns a copy of the full table keyed by model id.
func (t *Table) Entries() map[string]domain.PricingEntry {
	out := make(map[string]domain.PricingEntry, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Len reports the number of priced models.
func (t *Table) Len() int {
	return len(t.keys)
}
