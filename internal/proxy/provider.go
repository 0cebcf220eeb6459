package proxy

import (
	"encoding/json"
	"strings"
)

// Provider identifies an upstream LLM API vendor. The set is closed;
// each variant knows its host, default model, and usage-field schema.
type Provider int

const (
	ProviderOpenAI Provider = iota
	ProviderAnthropic
	ProviderGoogle
	ProviderUnknown
)

func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderGoogle:
		return "google"
	default:
		return "unknown"
	}
}

// Host is the provider's API host, used when the caller does not name
// a target explicitly.
func (p Provider) Host() string {
	switch p {
	case ProviderAnthropic:
		return "api.anthropic.com"
	case ProviderGoogle:
		return "generativelanguage.googleapis.com"
	default:
		return "api.openai.com"
	}
}

// DefaultModel is used when the request body carries no model field.
func (p Provider) DefaultModel() string {
	switch p {
	case ProviderAnthropic:
		return "claude-3-sonnet-20240229"
	case ProviderGoogle:
		return "gemini-1.5-flash"
	case ProviderOpenAI:
		return "gpt-4"
	default:
		return "unknown"
	}
}

// detectProvider infers the provider from a host name or path shape.
func detectProvider(host, path string) Provider {
	switch {
	case strings.Contains(host, "openai"),
		strings.HasPrefix(path, "/v1/chat/completions"),
		strings.HasPrefix(path, "/v1/completions"):
		return ProviderOpenAI
	case strings.Contains(host, "anthropic"),
		strings.HasPrefix(path, "/v1/messages"):
		return ProviderAnthropic
	case strings.Contains(host, "google"),
		strings.Contains(host, "generativelanguage"),
		strings.Contains(path, "generateContent"):
		return ProviderGoogle
	default:
		return ProviderUnknown
	}
}

// Usage is the token usage extracted from a provider response.
// RequestID is the provider-assigned response id when one was present.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	Model        string
	RequestID    string
}

// Per-provider response schemas. Pointer fields distinguish an absent
// usage object from one with zero counts.

type openAIBody struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type anthropicBody struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message *struct {
		Usage *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type googleBody struct {
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// ExtractUsage pulls token usage from a complete response body using
// the provider's schema. Malformed JSON and missing fields degrade to
// zero usage; the forwarded response is never affected.
func (p Provider) ExtractUsage(body []byte, requestModel string) Usage {
	usage := Usage{Model: requestModel}

	switch p {
	case ProviderOpenAI:
		var parsed openAIBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return usage
		}
		if parsed.Model != "" {
			usage.Model = parsed.Model
		}
		usage.RequestID = parsed.ID
		if parsed.Usage != nil {
			usage.InputTokens = parsed.Usage.PromptTokens
			usage.OutputTokens = parsed.Usage.CompletionTokens
			usage.TotalTokens = parsed.Usage.TotalTokens
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		}

	case ProviderAnthropic:
		var parsed anthropicBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return usage
		}
		if parsed.Model != "" {
			usage.Model = parsed.Model
		}
		usage.RequestID = parsed.ID
		if parsed.Usage != nil {
			usage.InputTokens = parsed.Usage.InputTokens
			usage.OutputTokens = parsed.Usage.OutputTokens
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens

	case ProviderGoogle:
		var parsed googleBody
		if err := json.Unmarshal(body, &parsed); err != nil {
			return usage
		}
		if parsed.UsageMetadata != nil {
			usage.InputTokens = parsed.UsageMetadata.PromptTokenCount
			usage.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
			usage.TotalTokens = parsed.UsageMetadata.TotalTokenCount
		}
		if usage.TotalTokens == 0 {
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		}
	}

	return usage
}

// applyStreamEvent folds one streamed event payload into the running
// counts. Providers emit usage at different points (some only in the
// final chunk, some incrementally), so the latest seen value wins.
func (p Provider) applyStreamEvent(data []byte, input, output *int) {
	switch p {
	case ProviderOpenAI:
		var parsed openAIBody
		if err := json.Unmarshal(data, &parsed); err != nil {
			return
		}
		if parsed.Usage != nil {
			*input = parsed.Usage.PromptTokens
			*output = parsed.Usage.CompletionTokens
		}

	case ProviderAnthropic:
		var parsed anthropicBody
		if err := json.Unmarshal(data, &parsed); err != nil {
			return
		}
		// message_start carries message.usage; message_delta carries a
		// top-level usage with the cumulative output count.
		if parsed.Message != nil && parsed.Message.Usage != nil {
			if parsed.Message.Usage.InputTokens > 0 {
				*input = parsed.Message.Usage.InputTokens
			}
			if parsed.Message.Usage.OutputTokens > 0 {
				*output = parsed.Message.Usage.OutputTokens
			}
		}
		if parsed.Usage != nil {
			if parsed.Usage.InputTokens > 0 {
				*input = parsed.Usage.InputTokens
			}
			if parsed.Usage.OutputTokens > 0 {
				*output = parsed.Usage.OutputTokens
			}
		}

	case ProviderGoogle:
		var parsed googleBody
		if err := json.Unmarshal(data, &parsed); err != nil {
			return
		}
		if parsed.UsageMetadata != nil {
			*input = parsed.UsageMetadata.PromptTokenCount
			*output = parsed.UsageMetadata.CandidatesTokenCount
		}
	}
}

// requestModel extracts the model from a request body, falling back
// to the provider default on parse failure or a missing field.
func requestModel(body []byte, p Provider) string {
	var parsed struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Model == "" {
		return p.DefaultModel()
	}
	return parsed.Model
}
