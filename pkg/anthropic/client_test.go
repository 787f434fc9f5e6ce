package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost_KnownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 500_000}
	// 1M input at $0.80 + 0.5M output at $4.00 = 0.80 + 2.00
	assert.InDelta(t, 2.80, u.EstimateCost("claude-haiku-4-5-20251001"), 0.001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	assert.Equal(t, 0.0, u.EstimateCost("some-other-model"))
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	usage := TokenUsage{InputTokens: 1500, OutputTokens: 300}

	assert.NotPanics(t, func() {
		usage.LogCost("claude-haiku-4-5-20251001", "cross_verify")
	})
	assert.NotPanics(t, func() {
		usage.LogCost("unknown-model", "cross_verify")
	})
}

func TestToSDKMessages_Roles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "question"},
		{Role: "assistant", Content: "answer"},
	})
	assert.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}
