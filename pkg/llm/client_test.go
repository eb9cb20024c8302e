package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "first"},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: " second"},
		},
	}
	assert.Equal(t, "first second", resp.Text())

	var nilResp *MessageResponse
	assert.Equal(t, "", nilResp.Text())
}

func TestEstimateCost(t *testing.T) {
	usage := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}

	cost := usage.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 0.80+2.00, cost, 0.0001)

	assert.Zero(t, usage.EstimateCost("unknown-model"))
}

type deadlineProbe struct {
	hadDeadline bool
}

func (p *deadlineProbe) CreateMessage(ctx context.Context, _ MessageRequest) (*MessageResponse, error) {
	_, p.hadDeadline = ctx.Deadline()
	return &MessageResponse{}, nil
}

func TestWithTimeout(t *testing.T) {
	probe := &deadlineProbe{}

	wrapped := WithTimeout(probe, time.Minute)
	_, err := wrapped.CreateMessage(context.Background(), MessageRequest{})
	assert.NoError(t, err)
	assert.True(t, probe.hadDeadline)

	assert.Same(t, Client(probe), WithTimeout(probe, 0))
}
