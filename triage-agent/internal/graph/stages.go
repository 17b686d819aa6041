package graph

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
)

// ClassifyInput is what ROUTE knows about a request.
type ClassifyInput struct {
	Query            string
	ImageDescription string
	HasImage         bool
	History          []Turn
}

// Classifier decides where a request goes next.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (Route, error)
}

// Draft is the reasoning stage's output. A nil Risk means the score could
// not be assigned.
type Draft struct {
	Answer string
	Risk   *int
}

// Reasoner drafts an answer and a risk score from the gathered context.
type Reasoner interface {
	Reason(ctx context.Context, st State) (Draft, error)
}

// Evaluator approves a draft or sends it back for another pass.
type Evaluator interface {
	Evaluate(ctx context.Context, st State) (bool, error)
}

// Reporter writes the final message for a risk band.
type Reporter interface {
	Report(ctx context.Context, st State, band RiskBand) (string, error)
}

// Clarifier writes the follow-up request for runs ending in CLARIFY.
type Clarifier interface {
	Clarify(ctx context.Context, st State) (string, error)
}

// Knowledge is the read side of the knowledge store.
type Knowledge interface {
	Search(ctx context.Context, query string, k int) ([]knowledge.Snippet, error)
	GraphQuery(ctx context.Context, term string) ([]knowledge.Relation, error)
}

// ImageAnalyzer turns an attached image into a text description.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, data []byte) (string, error)
}

// Stages bundles the pluggable stage implementations.
type Stages struct {
	Classifier Classifier
	Reasoner   Reasoner
	Evaluator  Evaluator
	Reporter   Reporter
	Clarifier  Clarifier
}

// KnowledgeContext renders retrieved snippets, graph relations and the
// image description as prompt context.
func KnowledgeContext(st State) string {
	var b strings.Builder
	b.WriteString("=== Vector Search Results ===\n")
	if len(st.Snippets) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range st.Snippets {
		fmt.Fprintf(&b, "[Source: %s]\n%s\n\n", s.Source, s.Text)
	}
	b.WriteString("\n=== Knowledge Graph Results ===\n")
	b.WriteString(knowledge.FormatRelations(st.Relations))
	b.WriteString("\n")
	if st.ImageDescription != "" {
		b.WriteString("\n=== Medical Image Analysis ===\n")
		b.WriteString(st.ImageDescription)
		b.WriteString("\n")
	}
	return b.String()
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
