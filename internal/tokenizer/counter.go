// Package tokenizer wraps the tiktoken BPE engine. It routes model
// names to one of four encoding families and shapes count results;
// the tokenization itself is delegated to pkoukk/tiktoken-go.
package tokenizer

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is a BPE encoding family understood by the engine.
type Encoding string

const (
	EncodingCL100K Encoding = "cl100k_base"
	EncodingP50K   Encoding = "p50k_base"
	EncodingR50K   Encoding = "r50k_base"
	EncodingO200K  Encoding = "o200k_base"

	// DefaultEncoding is used when no model entry matches.
	DefaultEncoding = EncodingCL100K
)

// maxEchoedChars caps the text echoed back in a CountResult.
const maxEchoedChars = 100

type encodingRow struct {
	key      string
	encoding Encoding
}

// Substring fallback scans rows in declaration order. Non-OpenAI
// models use approximate encodings.
var encodingRows = []encodingRow{
	// OpenAI o200k family
	{"gpt-4o", EncodingO200K},
	{"gpt-4o-mini", EncodingO200K},
	{"chatgpt-4o-latest", EncodingO200K},
	{"o1", EncodingO200K},
	{"o1-mini", EncodingO200K},
	{"o1-preview", EncodingO200K},
	{"o3-mini", EncodingO200K},
	// OpenAI cl100k family
	{"gpt-4-turbo", EncodingCL100K},
	{"gpt-4", EncodingCL100K},
	{"gpt-4-32k", EncodingCL100K},
	{"gpt-3.5-turbo", EncodingCL100K},
	{"gpt-3.5-turbo-instruct", EncodingCL100K},
	{"text-embedding-3-large", EncodingCL100K},
	{"text-embedding-3-small", EncodingCL100K},
	{"text-embedding-ada-002", EncodingCL100K},
	// Legacy OpenAI
	{"text-davinci-003", EncodingP50K},
	{"text-davinci-002", EncodingP50K},
	{"code-davinci-002", EncodingP50K},
	{"davinci", EncodingR50K},
	{"curie", EncodingR50K},
	{"babbage", EncodingR50K},
	{"ada", EncodingR50K},
	// Anthropic (approximate)
	{"claude-3-5-sonnet", EncodingCL100K},
	{"claude-3-5-haiku", EncodingCL100K},
	{"claude-3.5-sonnet", EncodingCL100K},
	{"claude-3.5-haiku", EncodingCL100K},
	{"claude-3-opus", EncodingCL100K},
	{"claude-3-sonnet", EncodingCL100K},
	{"claude-3-haiku", EncodingCL100K},
	{"claude-2.1", EncodingCL100K},
	{"claude-2", EncodingCL100K},
	{"claude-instant-1.2", EncodingCL100K},
	// Google (approximate)
	{"gemini-2.0-flash-exp", EncodingCL100K},
	{"gemini-1.5-pro", EncodingCL100K},
	{"gemini-1.5-flash", EncodingCL100K},
	{"gemini-pro", EncodingCL100K},
	// Meta Llama (approximate)
	{"llama-3.3-70b", EncodingCL100K},
	{"llama-3.1-405b", EncodingCL100K},
	{"llama-3.1-70b", EncodingCL100K},
	{"llama-3.1-8b", EncodingCL100K},
	{"codellama-70b", EncodingCL100K},
	// Mistral (approximate)
	{"mistral-large", EncodingCL100K},
	{"mistral-small", EncodingCL100K},
	{"mistral-7b", EncodingCL100K},
	{"mixtral-8x7b", EncodingCL100K},
	{"codestral", EncodingCL100K},
	// Others (approximate)
	{"command-r-plus", EncodingCL100K},
	{"command-r", EncodingCL100K},
	{"deepseek-chat", EncodingCL100K},
	{"deepseek-v3", EncodingCL100K},
	{"qwen-max", EncodingCL100K},
	{"qwen-plus", EncodingCL100K},
	{"grok-2", EncodingCL100K},
	{"grok-beta", EncodingCL100K},
	{"amazon-nova-pro", EncodingCL100K},
	{"amazon-nova-lite", EncodingCL100K},
	{"amazon-nova-micro", EncodingCL100K},
}

var encodingByModel = func() map[string]Encoding {
	m := make(map[string]Encoding, len(encodingRows))
	for _, r := range encodingRows {
		m[r.key] = r.encoding
	}
	return m
}()

// EncodingForModel resolves the encoding family for a model: exact
// case-insensitive match, then the first declared key contained in
// the model id, then DefaultEncoding.
func EncodingForModel(model string) Encoding {
	lower := strings.ToLower(model)

	if enc, ok := encodingByModel[lower]; ok {
		return enc
	}
	for _, r := range encodingRows {
		if strings.Contains(lower, r.key) {
			return r.encoding
		}
	}
	return DefaultEncoding
}

// SupportedModels returns all model ids with a known encoding, in
// declaration order.
func SupportedModels() []string {
	out := make([]string, 0, len(encodingRows))
	for _, r := range encodingRows {
		out = append(out, r.key)
	}
	return out
}

// Estimate approximates a token count without an engine: roughly one
// token per four characters. Used on latency-sensitive paths where
// exact tokenization is too costly.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// CountResult is the outcome of counting one text. Text holds at most
// the first 100 characters of the input.
type CountResult struct {
	Text       string   `json:"text"`
	TokenCount int      `json:"tokenCount"`
	Model      string   `json:"model"`
	Encoding   Encoding `json:"encoding"`
	TokenIDs   []int    `json:"tokens,omitempty"`
}

// BatchResult is the outcome of counting a sequence of texts.
type BatchResult struct {
	Results     []CountResult `json:"results"`
	TotalTokens int           `json:"totalTokens"`
}

// Counter counts tokens with cached per-encoding engines. Engines are
// expensive to build, safe for concurrent use once built, and
// constructed lazily under the counter's mutex (memoized
// construction; duplicates are never built).
type Counter struct {
	mu      sync.Mutex
	engines map[Encoding]*tiktoken.Tiktoken
}

// NewCounter returns a Counter with an empty engine cache.
func NewCounter() *Counter {
	return &Counter{
		engines: make(map[Encoding]*tiktoken.Tiktoken),
	}
}

func (c *Counter) engine(encoding Encoding) (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if eng, ok := c.engines[encoding]; ok {
		return eng, nil
	}

	eng, err := tiktoken.GetEncoding(string(encoding))
	if err != nil {
		return nil, fmt.Errorf("build %s engine: %w", encoding, err)
	}
	c.engines[encoding] = eng
	return eng, nil
}

// Count tokenizes text with the encoding resolved for model. When
// includeTokenIDs is set, the raw token ids are returned as well.
func (c *Counter) Count(text, model string, includeTokenIDs bool) (CountResult, error) {
	encoding := EncodingForModel(model)
	eng, err := c.engine(encoding)
	if err != nil {
		return CountResult{}, err
	}

	tokens := eng.Encode(text, nil, nil)

	result := CountResult{
		Text:       truncate(text, maxEchoedChars),
		TokenCount: len(tokens),
		Model:      model,
		Encoding:   encoding,
	}
	if includeTokenIDs {
		result.TokenIDs = tokens
	}
	return result, nil
}

// CountBatch counts each text and sums the totals. An empty input
// yields zero results and a zero total.
func (c *Counter) CountBatch(texts []string, model string) (BatchResult, error) {
	batch := BatchResult{Results: make([]CountResult, 0, len(texts))}

	for _, text := range texts {
		result, err := c.Count(text, model, false)
		if err != nil {
			return BatchResult{}, err
		}
		batch.Results = append(batch.Results, result)
		batch.TotalTokens += result.TokenCount
	}
	return batch, nil
}

// Close releases all cached engines. Call at process shutdown; the
// counter builds fresh engines if used again afterwards.
func (c *Counter) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.engines = make(map[Encoding]*tiktoken.Tiktoken)
}

func truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + "..."
}
