package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/llm"
)

// scriptedModel answers by matching the system prompt, so every stage can
// share one fake.
type scriptedModel struct {
	mu      sync.Mutex
	replies map[string][]string
	err     error
	calls   [][]llm.Message
}

func (m *scriptedModel) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return "", m.err
	}
	key := promptKey(msgs[0].Content)
	queue := m.replies[key]
	if len(queue) == 0 {
		return "", errors.New("no scripted reply for " + key)
	}
	reply := queue[0]
	if len(queue) > 1 {
		m.replies[key] = queue[1:]
	}
	return reply, nil
}

func promptKey(system string) string {
	switch system {
	case routerPrompt:
		return "router"
	case triagePrompt:
		return "triage"
	case evaluatorPrompt:
		return "evaluator"
	case selfCarePrompt:
		return "selfcare"
	case referralPrompt:
		return "referral"
	case clarifyPrompt:
		return "clarify"
	}
	return "unknown"
}

func (m *scriptedModel) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if promptKey(c[0].Content) == key {
			n++
		}
	}
	return n
}

func TestParseRoute(t *testing.T) {
	tests := map[string]Route{
		"RETRIEVE":               RouteRetrieve,
		"retrieve.":              RouteRetrieve,
		"REASON":                 RouteReason,
		"NOT_RELEVANT":           RouteClarify,
		"This is not relevant":   RouteClarify,
		"RELEVANT":               RouteRetrieve,
		"IRRELEVANT":             RouteClarify,
		"irrelevant.":            RouteClarify,
		"Not Relevant":           RouteClarify,
		"NOT_RELEVANT, RETRIEVE": RouteClarify,
	}
	for in, want := range tests {
		got, err := ParseRoute(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseRoute("maybe?")
	assert.Error(t, err)
}

func TestParseAssessment(t *testing.T) {
	d := ParseAssessment("RISK_SCORE: 8\nREASONING: Chest pain with breathlessness.")
	require.NotNil(t, d.Risk)
	assert.Equal(t, 8, *d.Risk)
	assert.Equal(t, "Chest pain with breathlessness.", d.Answer)

	d = ParseAssessment("risk_score: [2]\nreasoning: mild")
	require.NotNil(t, d.Risk)
	assert.Equal(t, 2, *d.Risk)

	d = ParseAssessment("RISK_SCORE: 14\nREASONING: x")
	assert.Nil(t, d.Risk)

	d = ParseAssessment("RISK_SCORE: -4\nREASONING: Crushing chest pain.")
	assert.Nil(t, d.Risk)
	assert.Equal(t, "Crushing chest pain.", d.Answer)

	d = ParseAssessment("RISK_SCORE: 0\nREASONING: fine")
	require.NotNil(t, d.Risk)
	assert.Equal(t, 0, *d.Risk)

	d = ParseAssessment("RISK_SCORE: UNKNOWN\nREASONING: Need the duration.")
	assert.Nil(t, d.Risk)
	assert.Equal(t, "Need the duration.", d.Answer)

	d = ParseAssessment("I cannot say.")
	assert.Nil(t, d.Risk)
	assert.Equal(t, "I cannot say.", d.Answer)
}

func TestLLMClassifier_IncludesImageAndHistory(t *testing.T) {
	m := &scriptedModel{replies: map[string][]string{"router": {"RETRIEVE"}}}
	route, err := LLMClassifier{Model: m}.Classify(context.Background(), ClassifyInput{
		Query:            "what is this",
		HasImage:         true,
		ImageDescription: "Bruise on the shin.",
		History:          []Turn{{Sender: SenderAssistant, Text: "Can you send a photo?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, RouteRetrieve, route)

	ask := m.calls[0][1].Content
	assert.Contains(t, ask, "[Medical image attached]")
	assert.Contains(t, ask, "Image findings: Bruise on the shin.")
	assert.Contains(t, ask, "Previous assistant message: Can you send a photo?")
}

func TestLLMReasoner_WindowsHistory(t *testing.T) {
	m := &scriptedModel{replies: map[string][]string{"triage": {"RISK_SCORE: 3\nREASONING: ok"}}}
	var history []Turn
	for i := 0; i < 15; i++ {
		sender := SenderUser
		if i%2 == 1 {
			sender = SenderAssistant
		}
		history = append(history, Turn{Sender: sender, Text: strings.Repeat("x", i+1)})
	}

	d, err := LLMReasoner{Model: m}.Reason(context.Background(), State{
		Query:     "still coughing",
		History:   history,
		Snippets:  []knowledge.Snippet{{Text: "Cough guidance.", Source: "seed"}},
		Revisions: 1,
		Draft:     "old draft",
	})
	require.NoError(t, err)
	require.NotNil(t, d.Risk)
	assert.Equal(t, 3, *d.Risk)

	msgs := m.calls[0]
	// system + windowed history + the question
	require.Len(t, msgs, 1+historyWindow+1)
	assert.Equal(t, strings.Repeat("x", 6), msgs[1].Content)
	last := msgs[len(msgs)-1].Content
	assert.Contains(t, last, "Patient Query: still coughing")
	assert.Contains(t, last, "Cough guidance.")
	assert.Contains(t, last, "old draft")
}

func TestLLMEvaluator(t *testing.T) {
	m := &scriptedModel{replies: map[string][]string{"evaluator": {"APPROVE", "REVISE", "hmm"}}}
	ev := LLMEvaluator{Model: m}

	ok, err := ev.Evaluate(context.Background(), State{Draft: "d"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.Evaluate(context.Background(), State{Draft: "d"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ev.Evaluate(context.Background(), State{Draft: "d"})
	assert.Error(t, err)
}

func TestLLMReporter_PicksPromptByBand(t *testing.T) {
	m := &scriptedModel{replies: map[string][]string{"selfcare": {"rest"}, "referral": {"see a doctor"}}}
	r := LLMReporter{Model: m}
	score := 2

	out, err := r.Report(context.Background(), State{Risk: &score}, BandLow)
	require.NoError(t, err)
	assert.Equal(t, "rest", out)

	out, err = r.Report(context.Background(), State{Risk: &score}, BandHigh)
	require.NoError(t, err)
	assert.Equal(t, "see a doctor", out)
}

func TestLLMClarifier_OutOfScopeSkipsModel(t *testing.T) {
	m := &scriptedModel{}
	out, err := LLMClarifier{Model: m}.Clarify(context.Background(), State{ClarifyReason: ClarifyOutOfScope})
	require.NoError(t, err)
	assert.Equal(t, OutOfScopeMessage, out)
	assert.Empty(t, m.calls)
}

func TestLLMStages_EndToEnd(t *testing.T) {
	m := &scriptedModel{replies: map[string][]string{
		"router":    {"RETRIEVE"},
		"triage":    {"RISK_SCORE: 2\nREASONING: first", "RISK_SCORE: 1\nREASONING: Tension headache."},
		"evaluator": {"REVISE", "APPROVE"},
		"selfcare":  {"Rest, hydrate, and see a doctor if it persists."},
	}}
	e, err := NewEngine(LLMStages(m), &fakeKnowledge{}, nil, Config{MaxRevisions: 2}, zerolog.Nop())
	require.NoError(t, err)

	res, err := e.Run(context.Background(), Input{Query: "I have a mild headache"})
	require.NoError(t, err)

	assert.Equal(t, StageDone, res.Terminal)
	assert.Equal(t, BandLow, res.Band)
	assert.Equal(t, 1, res.Revisions)
	assert.Equal(t, "Rest, hydrate, and see a doctor if it persists.", res.Response)
	assert.Equal(t, 2, m.count("router"))
	assert.Equal(t, 2, m.count("triage"))
}

func TestLLMStages_NotRelevant(t *testing.T) {
	m := &scriptedModel{replies: map[string][]string{"router": {"NOT_RELEVANT"}}}
	kn := &fakeKnowledge{}
	e, err := NewEngine(LLMStages(m), kn, nil, Config{}, zerolog.Nop())
	require.NoError(t, err)

	res, err := e.Run(context.Background(), Input{Query: "what's the weather today"})
	require.NoError(t, err)
	assert.Equal(t, StageClarify, res.Terminal)
	assert.Equal(t, OutOfScopeMessage, res.Response)
	assert.Zero(t, kn.calls())
	assert.Len(t, m.calls, 1)
}

func TestLLMStages_ModelDown(t *testing.T) {
	m := &scriptedModel{err: errors.New("connection refused")}
	e, err := NewEngine(LLMStages(m), &fakeKnowledge{}, nil, Config{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = e.Run(context.Background(), Input{Query: "fever"})
	assert.ErrorIs(t, err, ErrReasoningFailed)
}
