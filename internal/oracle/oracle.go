// Package oracle is the LLM boundary for the research engine. Every prompt
// the pipeline issues goes through Ask, which retries transient failures and
// degrades to a nil payload when the model cannot be reached or returns
// garbage. Callers treat nil as "no information" and carry on; the pipeline
// never aborts a wave because the oracle went quiet.
//
// Structured responses are decoded at this boundary only (see schema.go):
// internal code downstream operates on validated structs, never on raw JSON.
package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout-cli/internal/resilience"
)

// Model constants.
const (
	ModelHaiku  = "claude-haiku-4-5-20251001"
	ModelSonnet = "claude-sonnet-4-5-20250929"
)

const defaultSystem = "You are a research assistant. Respond with valid JSON only. No markdown."

// Oracle is the narrow interface the pipeline consumes. Ask returns the
// model's response as extracted JSON, or nil when no usable answer could be
// obtained (transport failure after retries, or unparseable output). A
// non-nil error is reserved for configuration problems and context
// cancellation; transient trouble is absorbed here.
type Oracle interface {
	Ask(ctx context.Context, prompt, system string) (json.RawMessage, error)
}

// Client implements Oracle on top of the Anthropic API.
type Client struct {
	llm         Messenger
	model       string
	maxTokens   int64
	temperature float64
	retry       resilience.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithMaxTokens overrides the default output token budget.
func WithMaxTokens(n int64) Option {
	return func(c *Client) { c.maxTokens = n }
}

// WithTemperature overrides the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithRetryConfig overrides the default retry behavior.
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates an oracle client. The default retry schedule waits roughly
// 2s then 5s between the three attempts.
func New(llm Messenger, opts ...Option) *Client {
	c := &Client{
		llm:         llm,
		model:       ModelHaiku,
		maxTokens:   4096,
		temperature: 0.3,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     10 * time.Second,
			Multiplier:     2.5,
			JitterFraction: 0.1,
			OnRetry:        resilience.RetryLogger("anthropic", "ask"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ask sends one prompt and returns the JSON payload extracted from the
// response text. Returns (nil, nil) when all attempts failed or the output
// contained no parseable JSON.
func (c *Client) Ask(ctx context.Context, prompt, system string) (json.RawMessage, error) {
	if c.llm == nil {
		return nil, eris.New("oracle: no client configured")
	}
	if system == "" {
		system = defaultSystem
	}

	req := MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: &c.temperature,
		System:      system,
		Prompt:      prompt,
	}

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*MessageResponse, error) {
		return c.llm.CreateMessage(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "oracle: ask")
		}
		zap.L().Warn("oracle exhausted retries",
			zap.String("model", c.model),
			zap.Error(err))
		return nil, nil
	}

	resp.Usage.LogCost(c.model, "oracle")

	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	raw := ExtractJSON(text)
	if raw == nil {
		zap.L().Warn("oracle returned unparseable output",
			zap.String("model", c.model),
			zap.String("head", head(text, 200)))
	}
	return raw, nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
