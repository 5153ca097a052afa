package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coaching-cli/internal/config"
	"github.com/sells-group/coaching-cli/internal/model"
	"github.com/sells-group/coaching-cli/pkg/anthropic"
)

type fakeClient struct {
	text  string
	usage anthropic.TokenUsage
	err   error
	reqs  []anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.text}},
		Usage:   f.usage,
	}, nil
}

func testOracleConfig() config.OracleConfig {
	return config.OracleConfig{RequestsPerMinute: 600, MaxConcurrent: 4}
}

func testParam() model.BehaviorParameter {
	return model.BehaviorParameter{
		ID: "empathy", Name: "Empathy", Definition: "warmth",
		HighMeaning: "acknowledges feelings", LowMeaning: "strictly factual",
	}
}

func TestLLMScore_ParsesVerdict(t *testing.T) {
	client := &fakeClient{
		text:  `{"score": 0.82, "confidence": 0.7, "evidence": ["i understand"]}`,
		usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
	o := NewLLM(client, testOracleConfig(), "claude-haiku-4-5-20251001")

	res, err := o.Score(context.Background(), "some transcript", testParam())
	require.NoError(t, err)
	assert.InDelta(t, 0.82, res.Value, 1e-9)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.Equal(t, []string{"i understand"}, res.Evidence)

	require.Len(t, client.reqs, 1)
	req := client.reqs[0]
	assert.Equal(t, "claude-haiku-4-5-20251001", req.Model)
	require.Len(t, req.System, 1)
	assert.Contains(t, req.System[0].Text, "Parameter: Empathy")
	require.NotNil(t, req.System[0].CacheControl)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "some transcript")

	usage := o.Usage()
	assert.Equal(t, int64(100), usage.InputTokens)
	assert.Equal(t, int64(20), usage.OutputTokens)
}

func TestLLMScore_StripsFences(t *testing.T) {
	client := &fakeClient{text: "```json\n{\"score\": 0.4, \"confidence\": 0.5, \"evidence\": []}\n```"}
	o := NewLLM(client, testOracleConfig(), "claude-haiku-4-5-20251001")

	res, err := o.Score(context.Background(), "t", testParam())
	require.NoError(t, err)
	assert.InDelta(t, 0.4, res.Value, 1e-9)
}

func TestLLMScore_ClampsOutOfRange(t *testing.T) {
	client := &fakeClient{text: `{"score": 1.4, "confidence": -0.3, "evidence": []}`}
	o := NewLLM(client, testOracleConfig(), "claude-haiku-4-5-20251001")

	res, err := o.Score(context.Background(), "t", testParam())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Value, 1e-9)
	assert.InDelta(t, 0.0, res.Confidence, 1e-9)
}

func TestLLMScore_MalformedVerdictIsError(t *testing.T) {
	client := &fakeClient{text: "I cannot rate this transcript."}
	o := NewLLM(client, testOracleConfig(), "claude-haiku-4-5-20251001")

	_, err := o.Score(context.Background(), "t", testParam())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse verdict")
}

func TestLLMScore_APIErrorSurfaces(t *testing.T) {
	client := &fakeClient{err: errors.New("overloaded")}
	o := NewLLM(client, testOracleConfig(), "claude-haiku-4-5-20251001")

	_, err := o.Score(context.Background(), "t", testParam())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empathy")
}

func TestLLMScore_AccumulatesUsageAcrossCalls(t *testing.T) {
	client := &fakeClient{
		text:  `{"score": 0.5, "confidence": 0.5, "evidence": []}`,
		usage: anthropic.TokenUsage{InputTokens: 10, CacheReadInputTokens: 90},
	}
	o := NewLLM(client, testOracleConfig(), "claude-haiku-4-5-20251001")

	for i := 0; i < 3; i++ {
		_, err := o.Score(context.Background(), "t", testParam())
		require.NoError(t, err)
	}
	usage := o.Usage()
	assert.Equal(t, int64(30), usage.InputTokens)
	assert.Equal(t, int64(270), usage.CacheReadInputTokens)
}
