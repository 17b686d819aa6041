package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBandFor(t *testing.T) {
	tests := []struct {
		score int
		want  RiskBand
	}{
		{0, BandLow}, {3, BandLow},
		{4, BandMedium}, {6, BandMedium},
		{7, BandHigh}, {10, BandHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BandFor(tt.score), "score %d", tt.score)
	}
}

func TestClampRisk(t *testing.T) {
	assert.Equal(t, 0, ClampRisk(-1))
	assert.Equal(t, 5, ClampRisk(5))
	assert.Equal(t, 10, ClampRisk(42))
}

func TestStageTerminal(t *testing.T) {
	for _, s := range AllStages {
		assert.Equal(t, s == StageClarify || s == StageDone, s.Terminal(), string(s))
	}
}

func TestParseSender(t *testing.T) {
	for role, want := range map[string]Sender{
		"user":      SenderUser,
		"USER":      SenderUser,
		"assistant": SenderAssistant,
		"bot":       SenderAssistant,
		" Bot ":     SenderAssistant,
	} {
		got, err := ParseSender(role)
		require.NoError(t, err, role)
		assert.Equal(t, want, got, role)
	}

	_, err := ParseSender("system")
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestNewConversation(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c, err := NewConversation([]HistoryMessage{
		{Role: "user", Content: "I have a rash"},
		{Role: "bot", Content: "How long have you had it?"},
	}, now)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	turns := c.Turns()
	assert.Equal(t, SenderUser, turns[0].Sender)
	assert.Equal(t, SenderAssistant, turns[1].Sender)
	assert.Equal(t, now, turns[1].Timestamp)

	// callers get a copy
	turns[0].Text = "edited"
	assert.Equal(t, "I have a rash", c.Turns()[0].Text)

	_, err = NewConversation([]HistoryMessage{{Role: "doctor", Content: "hi"}}, now)
	assert.ErrorIs(t, err, ErrInputInvalid)
}

func TestConversationNil(t *testing.T) {
	var c *Conversation
	assert.Zero(t, c.Len())
	assert.Nil(t, c.Turns())
}

func TestStateDegradeDedups(t *testing.T) {
	st := &State{}
	assert.True(t, st.degrade(ReasonKnowledgeUnavailable))
	assert.False(t, st.degrade(ReasonKnowledgeUnavailable))
	assert.True(t, st.degrade(ReasonVisionUnavailable))
	assert.True(t, st.Degraded)
	assert.Equal(t, []string{ReasonKnowledgeUnavailable, ReasonVisionUnavailable}, st.DegradedReasons)
}

func TestStateBand(t *testing.T) {
	st := &State{}
	_, ok := st.Band()
	assert.False(t, ok)

	score := 5
	st.Risk = &score
	band, ok := st.Band()
	assert.True(t, ok)
	assert.Equal(t, BandMedium, band)
}
