package graph

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
)

var (
	// ErrInputInvalid is returned before any stage runs.
	ErrInputInvalid = errors.New("invalid input")
	// ErrReasoningFailed means the classifier or reasoner failed or gave
	// unusable output. The run is abandoned.
	ErrReasoningFailed = errors.New("reasoning failed")
)

// Stage is a workflow state.
type Stage string

const (
	StageRoute    Stage = "ROUTE"
	StageRetrieve Stage = "RETRIEVE"
	StageReason   Stage = "REASON"
	StageEvaluate Stage = "EVALUATE"
	StageReport   Stage = "REPORT"
	StageClarify  Stage = "CLARIFY"
	StageDone     Stage = "DONE"
)

// AllStages lists every stage in pipeline order.
var AllStages = []Stage{StageRoute, StageRetrieve, StageReason, StageEvaluate, StageReport, StageClarify, StageDone}

// Terminal reports whether the run ends in s.
func (s Stage) Terminal() bool { return s == StageClarify || s == StageDone }

// Route is the classifier's decision.
type Route string

const (
	RouteClarify  Route = "clarify"
	RouteRetrieve Route = "retrieve"
	RouteReason   Route = "reason"
)

// Reasons a run continued in degraded mode.
const (
	ReasonKnowledgeUnavailable = "knowledge_unavailable"
	ReasonVisionUnavailable    = "vision_unavailable"
	ReasonRevisionLimit        = "revision_limit"
	ReasonEvaluationSkipped    = "evaluation_skipped"
	ReasonTemplateFallback     = "template_fallback"
)

// Why a run ended in CLARIFY.
const (
	ClarifyOutOfScope  = "out_of_scope"
	ClarifyUnknownRisk = "unknown_risk"
)

// RiskBand buckets a 0-10 score.
type RiskBand string

const (
	BandLow    RiskBand = "low"
	BandMedium RiskBand = "medium"
	BandHigh   RiskBand = "high"
)

// BandFor maps a score to its band: 0-3 low, 4-6 medium, 7-10 high.
func BandFor(score int) RiskBand {
	switch {
	case score <= 3:
		return BandLow
	case score <= 6:
		return BandMedium
	default:
		return BandHigh
	}
}

// ValidRisk reports whether score lies in [0,10].
func ValidRisk(score int) bool { return score >= 0 && score <= 10 }

// ClampRisk keeps a score inside [0,10].
func ClampRisk(score int) int {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// ParseSender accepts the roles clients send, including the legacy "bot".
func ParseSender(role string) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user":
		return SenderUser, nil
	case "assistant", "bot":
		return SenderAssistant, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInputInvalid, role)
	}
}

// Turn is one message of a conversation. Turns are never edited.
type Turn struct {
	Sender    Sender
	Text      string
	ImageRef  string
	Timestamp time.Time
}

// Conversation is an append-only sequence of turns.
type Conversation struct {
	turns []Turn
}

// HistoryMessage is a turn as supplied by the client.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewConversation rebuilds the caller's history.
func NewConversation(history []HistoryMessage, now time.Time) (*Conversation, error) {
	c := &Conversation{}
	for _, m := range history {
		sender, err := ParseSender(m.Role)
		if err != nil {
			return nil, err
		}
		c.Append(Turn{Sender: sender, Text: m.Content, Timestamp: now})
	}
	return c, nil
}

func (c *Conversation) Append(t Turn) {
	c.turns = append(c.turns, t)
}

// Turns returns a copy of the turns.
func (c *Conversation) Turns() []Turn {
	if c == nil {
		return nil
	}
	return append([]Turn(nil), c.turns...)
}

func (c *Conversation) Len() int {
	if c == nil {
		return 0
	}
	return len(c.turns)
}

// Input starts one run.
type Input struct {
	Query   string
	History *Conversation
	Image   []byte
}

// State is owned by a single run and discarded when it ends.
type State struct {
	Query            string
	History          []Turn
	Image            []byte
	ImageDescription string
	Snippets         []knowledge.Snippet
	Relations        []knowledge.Relation
	// Risk is nil until scored, and stays nil when the score is unknown.
	Risk            *int
	Stage           Stage
	Route           Route
	Draft           string
	Response        string
	Revisions       int
	Degraded        bool
	DegradedReasons []string
	ClarifyReason   string
	Path            []Stage

	imageAttempted bool
	// last draft that carried a known risk
	scoredDraft string
	scoredRisk  *int
}

// HasImage reports whether the request carried an image.
func (s *State) HasImage() bool { return len(s.Image) > 0 }

// Band returns the risk band, or false while the risk is unknown.
func (s *State) Band() (RiskBand, bool) {
	if s.Risk == nil {
		return "", false
	}
	return BandFor(*s.Risk), true
}

func (s *State) degrade(reason string) bool {
	s.Degraded = true
	for _, r := range s.DegradedReasons {
		if r == reason {
			return false
		}
	}
	s.DegradedReasons = append(s.DegradedReasons, reason)
	return true
}

// Result summarises a finished run.
type Result struct {
	Response        string
	Terminal        Stage
	Risk            *int
	Band            RiskBand
	Revisions       int
	Degraded        bool
	DegradedReasons []string
	Path            []Stage
}
