package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/internal/resilience"
	"github.com/sells-group/coaching-cli/pkg/anthropic"
)

const scoreMaxTokens = 1024

// LLMOracle scores transcripts with an Anthropic model. One request per
// (transcript, parameter) pair; the parameter rubric rides in a cached system
// block so repeated calls for the same parameter hit the prompt cache.
type LLMOracle struct {
	client  anthropic.Client
	model   string
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	usage   *anthropic.UsageTracker
}

// NewLLM wires the rate limiter, retry policy, and circuit breaker around an
// Anthropic client according to the oracle configuration.
func NewLLM(client anthropic.Client, cfg config.OracleConfig, modelID string) *LLMOracle {
	rl := rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.MaxConcurrent)
	return &LLMOracle{
		client:  client,
		model:   modelID,
		limiter: rl,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("oracle circuit state change",
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		retry: resilience.DefaultRetryConfig(),
		usage: &anthropic.UsageTracker{},
	}
}

// Usage returns a snapshot of the token usage accumulated across all scoring
// calls so far.
func (o *LLMOracle) Usage() anthropic.TokenUsage { return o.usage.Total() }

type scorePayload struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence"`
}

// Score asks the model to rate the transcript on one parameter and parses the
// JSON verdict. Values and confidences are clamped to [0,1] before returning.
func (o *LLMOracle) Score(ctx context.Context, transcript string, param model.BehaviorParameter) (*Result, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "oracle: rate limit wait")
	}

	req := anthropic.MessageRequest{
		Model:     o.model,
		MaxTokens: scoreMaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(systemPrompt(param)),
		Messages: []anthropic.Message{
			{Role: "user", Content: "Transcript:\n\n" + transcript},
		},
	}

	var resp *anthropic.MessageResponse
	err := o.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, o.retry, func(ctx context.Context) error {
			var callErr error
			resp, callErr = o.client.CreateMessage(ctx, req)
			return callErr
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: score parameter %s", param.ID)
	}
	o.usage.Record(resp.Usage)

	var payload scorePayload
	raw := cleanJSONFromText(resp.Text())
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, eris.Wrapf(err, "oracle: parse verdict for parameter %s", param.ID)
	}

	return &Result{
		Value:      model.Clamp01(payload.Score),
		Confidence: model.Clamp01(payload.Confidence),
		Evidence:   payload.Evidence,
	}, nil
}

func systemPrompt(param model.BehaviorParameter) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You rate how strongly a single behavior parameter shows up in an agent call transcript.

Parameter: %s
Definition: %s
A value near 1.0 means: %s
A value near 0.0 means: %s
`, param.Name, param.Definition, param.HighMeaning, param.LowMeaning)

	if len(param.Calibration) > 0 {
		b.WriteString("\nCalibration examples:\n")
		for _, ex := range param.Calibration {
			fmt.Fprintf(&b, "- %.2f: %s\n", ex.Score, ex.Excerpt)
		}
	}

	b.WriteString(`
Respond with ONLY a JSON object, no markdown fences:
{"score": <0.0-1.0>, "confidence": <0.0-1.0>, "evidence": ["short transcript quote", ...]}

Confidence reflects how much of the transcript actually bears on this parameter.
Keep evidence to at most three short quotes.`)
	return b.String()
}

// cleanJSONFromText extracts a JSON object from text that may carry markdown
// code fences or surrounding prose.
func cleanJSONFromText(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
