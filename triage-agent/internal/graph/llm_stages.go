package graph

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/llm"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/processing"
)

// historyWindow is how many earlier turns are replayed to the reasoner.
const historyWindow = 10

const routerPrompt = `You are a medical query router. Decide whether a user's query is related to health, medical symptoms, or wellness, and whether answering it needs reference knowledge.

Respond with exactly one word:
- RETRIEVE if the query is medical and would benefit from medical reference material (symptoms, conditions, treatments, test results, medical images)
- REASON if the query is medical but can be answered from the conversation alone (for example a follow-up answer to a question you asked)
- NOT_RELEVANT if the query is out of scope

Out of scope:
- General conversation
- Non-medical topics
- Technical support`

const triagePrompt = `You are an expert medical triage AI assistant. Analyze the patient's query and available medical knowledge to:

1. Assess the urgency/risk level (0-10 scale):
   - 0-3: Low risk (self-care appropriate)
   - 4-6: Medium risk (monitor, may need doctor)
   - 7-10: High risk (seek immediate medical attention)

2. Provide your assessment in this format:
   RISK_SCORE: [number 0-10, or UNKNOWN if the information is insufficient]
   REASONING: [your analysis]

Consider:
- Severity of symptoms
- Duration of symptoms
- Combination of symptoms
- Red flag symptoms (chest pain, difficulty breathing, severe bleeding, etc.)
- Medical imaging findings (X-rays, CT scans, MRIs, etc.) if provided
- Visual abnormalities or concerning features in medical images`

const evaluatorPrompt = `You review a medical triage assessment before it is shown to a patient.

Check that the assessment addresses the patient's query, that the risk score is consistent with the symptoms described (red flag symptoms must not be scored low), and that it does not invent facts absent from the query or the knowledge provided.

Respond with APPROVE if the assessment is acceptable, or REVISE if it should be redone.`

const selfCarePrompt = `You are a compassionate medical advisor for low-risk health concerns. Provide:

1. Clear explanation of the likely condition
2. Self-care recommendations
3. When to seek medical attention
4. General wellness advice

Be warm, supportive, and clear. Always include a disclaimer that this is not a substitute for professional medical advice.`

const referralPrompt = `You are a medical triage specialist for cases requiring professional medical attention.

For medium-risk cases:
- Explain why medical consultation is recommended
- Suggest timeline (within 24-48 hours)
- Provide interim care advice

For high-risk cases:
- Strongly recommend immediate medical attention
- List warning signs
- Suggest going to ER/urgent care if applicable

Always be clear but not alarmist.`

const clarifyPrompt = `You are a medical intake specialist. When information is insufficient, ask specific follow-up questions to better assess the situation.

Ask about:
- Duration and severity of symptoms
- Associated symptoms
- Medical history if relevant
- Current medications
- Recent activities or exposures

Be concise and ask 2-3 most important questions.`

var (
	riskScorePattern = regexp.MustCompile(`(?i)RISK_SCORE\s*:\s*\[?\s*(-?\d+|UNKNOWN)`)
	reasoningPattern = regexp.MustCompile(`(?is)REASONING\s*:\s*(.+)`)
)

// LLMClassifier asks the chat model to route the query.
type LLMClassifier struct {
	Model llm.Completer
}

func (c LLMClassifier) Classify(ctx context.Context, in ClassifyInput) (Route, error) {
	query := "Query: " + in.Query
	if in.HasImage {
		query += "\n[Medical image attached]"
	}
	if in.ImageDescription != "" {
		query += "\nImage findings: " + truncate(in.ImageDescription, imageFindingsLimit)
	}
	if n := len(in.History); n > 0 {
		last := in.History[n-1]
		query = fmt.Sprintf("Previous %s message: %s\n%s", last.Sender, last.Text, query)
	}

	out, err := c.Model.Complete(ctx, []llm.Message{
		llm.System(routerPrompt),
		llm.User("How should this query be handled? " + query),
	})
	if err != nil {
		return "", err
	}
	return ParseRoute(out)
}

// ParseRoute reads the router's one-word answer. A negative relevance
// verdict wins over any other word in the reply.
func ParseRoute(out string) (Route, error) {
	words := processing.Tokenize(out)
	seen := make(map[string]bool, len(words))
	for i, w := range words {
		if w == "irrelevant" || (w == "not" && i+1 < len(words) && words[i+1] == "relevant") {
			return RouteClarify, nil
		}
		seen[w] = true
	}
	switch {
	case seen["retrieve"]:
		return RouteRetrieve, nil
	case seen["reason"]:
		return RouteReason, nil
	case seen["relevant"]:
		return RouteRetrieve, nil
	default:
		return "", fmt.Errorf("unrecognised route %q", truncate(out, 80))
	}
}

// LLMReasoner drafts the triage assessment with the chat model.
type LLMReasoner struct {
	Model llm.Completer
}

func (r LLMReasoner) Reason(ctx context.Context, st State) (Draft, error) {
	msgs := []llm.Message{llm.System(triagePrompt)}
	history := st.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	for _, t := range history {
		if t.Sender == SenderAssistant {
			msgs = append(msgs, llm.Assistant(t.Text))
		} else {
			msgs = append(msgs, llm.User(t.Text))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient Query: %s\n\nAvailable Medical Knowledge:\n%s", st.Query, KnowledgeContext(st))
	if st.ImageDescription != "" {
		b.WriteString("\nIMPORTANT - the medical image analysis above should be weighted heavily in your risk assessment.\n")
	}
	if st.Revisions > 0 && st.Draft != "" {
		fmt.Fprintf(&b, "\nA previous assessment was rejected by review:\n%s\n", st.Draft)
	}
	b.WriteString("\nProvide your risk assessment.")
	msgs = append(msgs, llm.User(b.String()))

	out, err := r.Model.Complete(ctx, msgs)
	if err != nil {
		return Draft{}, err
	}
	return ParseAssessment(out), nil
}

// ParseAssessment extracts the score and reasoning. A missing, non-numeric
// or out of range score leaves the risk unknown.
func ParseAssessment(out string) Draft {
	d := Draft{Answer: strings.TrimSpace(out)}
	if m := reasoningPattern.FindStringSubmatch(out); m != nil {
		if reasoning := strings.TrimSpace(m[1]); reasoning != "" {
			d.Answer = reasoning
		}
	}
	if m := riskScorePattern.FindStringSubmatch(out); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && ValidRisk(n) {
			d.Risk = &n
		}
	}
	return d
}

// LLMEvaluator asks the chat model to approve or reject the draft.
type LLMEvaluator struct {
	Model llm.Completer
}

func (e LLMEvaluator) Evaluate(ctx context.Context, st State) (bool, error) {
	risk := "UNKNOWN"
	if st.Risk != nil {
		risk = strconv.Itoa(*st.Risk)
	}
	out, err := e.Model.Complete(ctx, []llm.Message{
		llm.System(evaluatorPrompt),
		llm.User(fmt.Sprintf("Patient Query: %s\n\nAssessment:\nRISK_SCORE: %s\n%s", st.Query, risk, st.Draft)),
	})
	if err != nil {
		return false, err
	}
	up := strings.ToUpper(out)
	switch {
	case strings.Contains(up, "APPROVE"):
		return true, nil
	case strings.Contains(up, "REVISE"):
		return false, nil
	default:
		return false, fmt.Errorf("unrecognised verdict %q", truncate(out, 80))
	}
}

// LLMReporter writes band-specific guidance with the chat model.
type LLMReporter struct {
	Model llm.Completer
}

func (r LLMReporter) Report(ctx context.Context, st State, band RiskBand) (string, error) {
	score := 0
	if st.Risk != nil {
		score = *st.Risk
	}
	system, ask := referralPrompt, "Provide appropriate medical referral guidance."
	if band == BandLow {
		system, ask = selfCarePrompt, "Provide helpful self-care advice."
	}
	return r.Model.Complete(ctx, []llm.Message{
		llm.System(system),
		llm.User(fmt.Sprintf("Patient Query: %s\nRisk Score: %d/10 (%s risk)\n\nAssessment:\n%s\n\nMedical Knowledge:\n%s\n%s",
			st.Query, score, band, st.Draft, KnowledgeContext(st), ask)),
	})
}

// LLMClarifier asks the chat model for follow-up questions. Out-of-scope
// messages get the fixed refusal without a model call.
type LLMClarifier struct {
	Model llm.Completer
}

func (c LLMClarifier) Clarify(ctx context.Context, st State) (string, error) {
	if st.ClarifyReason == ClarifyOutOfScope {
		return OutOfScopeMessage, nil
	}
	out, err := c.Model.Complete(ctx, []llm.Message{
		llm.System(clarifyPrompt),
		llm.User(fmt.Sprintf("Patient Query: %s\n\nWhat additional information would help assess this situation?", st.Query)),
	})
	if err != nil {
		return "", err
	}
	return "I need more information to help you better:\n\n" + out, nil
}

// LLMStages returns the model-backed stage set.
func LLMStages(model llm.Completer) Stages {
	return Stages{
		Classifier: LLMClassifier{Model: model},
		Reasoner:   LLMReasoner{Model: model},
		Evaluator:  LLMEvaluator{Model: model},
		Reporter:   LLMReporter{Model: model},
		Clarifier:  LLMClarifier{Model: model},
	}
}
