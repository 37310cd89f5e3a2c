package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout-cli/internal/resilience"
)

// stubLLM implements Messenger with canned responses.
type stubLLM struct {
	resp     *MessageResponse
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (s *stubLLM) CreateMessage(_ context.Context, _ MessageRequest) (*MessageResponse, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, resilience.NewTransientError(errors.New("upstream overloaded"), 529)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func textResponse(text string) *MessageResponse {
	return &MessageResponse{
		Content: []ContentBlock{{Type: "text", Text: text}},
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestAsk_ExtractsFencedJSON(t *testing.T) {
	llm := &stubLLM{resp: textResponse("Here you go:\n```json\n{\"queries\": [\"a\"]}\n```")}
	c := New(llm, WithRetryConfig(fastRetry()))

	raw, err := c.Ask(context.Background(), "prompt", "")
	require.NoError(t, err)
	require.NotNil(t, raw)

	var resp RefineResponse
	require.NoError(t, Decode(raw, &resp))
	assert.Equal(t, []string{"a"}, resp.Queries)
}

func TestAsk_ConcatenatesTextBlocks(t *testing.T) {
	llm := &stubLLM{resp: &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: `{"queries":`},
			{Type: "text", Text: ` ["x"]}`},
		},
	}}
	c := New(llm, WithRetryConfig(fastRetry()))

	raw, err := c.Ask(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"queries":["x"]}`, string(raw))
}

func TestAsk_RetriesTransientThenSucceeds(t *testing.T) {
	llm := &stubLLM{
		resp:     textResponse(`{"ok": true}`),
		failures: 2,
	}
	c := New(llm, WithRetryConfig(fastRetry()))

	raw, err := c.Ask(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.NotNil(t, raw)
	assert.Equal(t, 3, llm.calls)
}

func TestAsk_NilOnExhaustion(t *testing.T) {
	llm := &stubLLM{failures: 10}
	c := New(llm, WithRetryConfig(fastRetry()))

	raw, err := c.Ask(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, 3, llm.calls)
}

func TestAsk_NilOnUnparseableOutput(t *testing.T) {
	llm := &stubLLM{resp: textResponse("I cannot answer that in JSON, sorry.")}
	c := New(llm, WithRetryConfig(fastRetry()))

	raw, err := c.Ask(context.Background(), "prompt", "")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestAsk_NoClientConfigured(t *testing.T) {
	c := New(nil)
	_, err := c.Ask(context.Background(), "prompt", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no client configured")
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}
	assert.InDelta(t, 0.80+2.00, u.EstimateCost(ModelHaiku), 1e-9)
	assert.Zero(t, u.EstimateCost("unknown-model"))
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"prose around", `Sure! {"a":1} hope that helps`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"array", `[1,2,3]`, `[1,2,3]`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"empty", "", ""},
		{"no json", "nothing here", ""},
		{"truncated", `{"a": [1, 2`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.in)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestDecode_NilIsNoInformation(t *testing.T) {
	var resp TriageResponse
	require.NoError(t, Decode(nil, &resp))
	assert.Empty(t, resp.ScoredResults)

	ok, err := DecodeInto(nil, &resp)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlexFloat(t *testing.T) {
	var v struct {
		Score FlexFloat `json:"score"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"score": 0.8}`), &v))
	assert.InDelta(t, 0.8, v.Score.Float64(), 1e-9)

	require.NoError(t, json.Unmarshal([]byte(`{"score": "0.75"}`), &v))
	assert.InDelta(t, 0.75, v.Score.Float64(), 1e-9)

	require.NoError(t, json.Unmarshal([]byte(`{"score": null}`), &v))
	assert.Zero(t, v.Score.Float64())

	require.NoError(t, json.Unmarshal([]byte(`{"score": "high"}`), &v))
	assert.Zero(t, v.Score.Float64())
}

func TestPromptBuilders(t *testing.T) {
	p := QueryPlanPrompt("Austin", "Texas", "Gaming / Video Games", "20k-150k",
		2, 3, []string{"old query"}, []string{"gaming", "gamer"})
	assert.Contains(t, p, "Austin, Texas, USA")
	assert.Contains(t, p, "WAVE: 2/3")
	assert.Contains(t, p, "PREVIOUS WAVE FAILED")
	assert.Contains(t, p, "gaming, gamer")

	p = QueryPlanPrompt("Austin", "Texas", "Gaming / Video Games", "20k-150k",
		1, 3, nil, []string{"gaming"})
	assert.NotContains(t, p, "PREVIOUS WAVE FAILED")

	p = TriagePrompt("Boise", "Idaho", "Cinema / Movie Reviews", "20k-150k",
		4, "1. example.com", 4)
	assert.Contains(t, p, "RESULTS TO EVALUATE (4 results)")
	assert.Contains(t, p, "score >= 4")

	p = AdversarialPrompt("PixelPete", "https://youtube.com/@pixelpete",
		"Boise", "Idaho", "- quote", "Pete", "45K", "games from Boise")
	assert.Contains(t, p, `CHALLENGE the claim that "PixelPete"`)
	assert.Contains(t, p, "MOVED AWAY from Boise")

	p = RefinePrompt("find creators", "gaming", "search directories", "", "", "", 6)
	assert.Contains(t, p, "Location: any, any")
	assert.Contains(t, p, "Rejections: none")
	assert.Contains(t, p, "Generate 6 CONCRETE")

	// Placeholder variables survive into the strategy prompt verbatim.
	p = StrategiesPrompt(`{"objective":"x"}`)
	assert.Contains(t, p, "{city}, {state}, {country}")
	assert.True(t, strings.Contains(p, `"tier": "direct"`))
}
