package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/knowledge"
	"github.com/Divas-Gupta30/medical-triage/triage-agent/internal/processing"
)

// medicalVocabulary marks a message as in scope for the keyword classifier.
var medicalVocabulary = []string{
	"ache", "aches", "allergic", "allergy", "ankle", "anxiety", "asthma", "back pain",
	"bleeding", "blood", "blood pressure", "breath", "breathing", "bruise", "burn",
	"chest", "chills", "cold", "congestion", "constipation", "cough", "covid", "cramps",
	"ct", "depression", "diabetes", "diarrhea", "dizziness", "dizzy", "doctor", "ear",
	"fainted", "fatigue", "fever", "flu", "fracture", "headache", "health", "heart",
	"hurt", "hurts", "infection", "injury", "insomnia", "itch", "itchy", "lump",
	"medication", "medicine", "migraine", "mri", "nausea", "numbness", "pain",
	"pregnant", "rash", "scan", "seizure", "sick", "sore", "sprain", "stomach",
	"swelling", "swollen", "symptom", "symptoms", "temperature", "throat", "tired",
	"ulcer", "vomiting", "wheezing", "wound", "x ray", "xray",
}

// KeywordClassifier routes by vocabulary: domain terms go to RETRIEVE,
// follow-ups inside a medical conversation go to REASON, anything else is
// sent to CLARIFY.
type KeywordClassifier struct {
	terms []string
}

// NewKeywordClassifier combines the built-in vocabulary with the graph's
// terms.
func NewKeywordClassifier(g *knowledge.Graph) *KeywordClassifier {
	seen := make(map[string]bool)
	var terms []string
	add := func(t string) {
		norm := strings.Join(processing.Tokenize(t), " ")
		if norm != "" && !seen[norm] {
			seen[norm] = true
			terms = append(terms, norm)
		}
	}
	for _, t := range medicalVocabulary {
		add(t)
	}
	if g != nil {
		for _, t := range g.Terms() {
			add(t)
		}
	}
	return &KeywordClassifier{terms: terms}
}

func (k *KeywordClassifier) Classify(_ context.Context, in ClassifyInput) (Route, error) {
	if in.HasImage {
		return RouteRetrieve, nil
	}
	if k.mentionsDomain(in.Query + " " + in.ImageDescription) {
		return RouteRetrieve, nil
	}
	if len(processing.Tokenize(in.Query)) > 0 {
		for _, t := range in.History {
			if k.mentionsDomain(t.Text) {
				return RouteReason, nil
			}
		}
	}
	return RouteClarify, nil
}

func (k *KeywordClassifier) mentionsDomain(text string) bool {
	hay := " " + strings.Join(processing.Tokenize(text), " ") + " "
	for _, t := range k.terms {
		if strings.Contains(hay, " "+t+" ") {
			return true
		}
	}
	return false
}

// redFlags force a high score.
var redFlags = []string{
	"chest pain", "difficulty breathing", "shortness of breath", "trouble breathing",
	"can t breathe", "cannot breathe", "severe bleeding", "coughing blood",
	"vomiting blood", "unconscious", "fainted", "passed out", "seizure", "stroke",
	"slurred speech", "suicidal", "anaphylaxis", "throat swelling", "stiff neck",
}

// symptomTerms give a baseline score when present.
var symptomTerms = []string{
	"ache", "bleeding", "blood", "breathing", "burn", "chills", "cold", "congestion",
	"constipation", "cough", "cramps", "diarrhea", "dizziness", "dizzy", "fatigue",
	"fever", "flu", "headache", "infection", "injury", "itch", "itchy", "lump",
	"migraine", "nausea", "numbness", "pain", "rash", "sore", "sprain", "swelling",
	"swollen", "tired", "vomiting", "wheezing", "wound",
}

var severityModifiers = []struct {
	phrase string
	delta  int
}{
	{"severe", 3},
	{"extreme", 3},
	{"excruciating", 3},
	{"unbearable", 3},
	{"worst", 3},
	{"high fever", 2},
	{"getting worse", 2},
	{"worsening", 2},
	{"persistent", 2},
	{"for weeks", 2},
	{"moderate", 1},
	{"mild", -1},
	{"slight", -1},
	{"minor", -1},
}

// RuleReasoner scores risk from a red-flag and severity lexicon. It cannot
// score a message with no recognisable symptom and leaves the risk unknown.
type RuleReasoner struct{}

func (RuleReasoner) Reason(_ context.Context, st State) (Draft, error) {
	text := st.Query + " " + st.ImageDescription
	hay := " " + strings.Join(processing.Tokenize(text), " ") + " "
	has := func(phrase string) bool {
		return strings.Contains(hay, " "+strings.Join(processing.Tokenize(phrase), " ")+" ")
	}

	var flags, symptoms []string
	for _, f := range redFlags {
		if has(f) {
			flags = append(flags, f)
		}
	}
	for _, s := range symptomTerms {
		if has(s) {
			symptoms = append(symptoms, s)
		}
	}

	var b strings.Builder
	if len(flags) == 0 && len(symptoms) == 0 {
		b.WriteString("There is not enough information to assess the risk of this concern.")
		return Draft{Answer: b.String()}, nil
	}

	score := 2
	for _, m := range severityModifiers {
		if has(m.phrase) {
			score += m.delta
		}
	}
	if len(flags) > 0 {
		if score < 7 {
			score = 7
		}
		score += len(flags)
	}
	score = ClampRisk(score)

	if len(flags) > 0 {
		fmt.Fprintf(&b, "Warning signs reported: %s.\n", strings.Join(flags, ", "))
	}
	if len(symptoms) > 0 {
		fmt.Fprintf(&b, "Symptoms noted: %s.\n", strings.Join(symptoms, ", "))
	}
	if conditions := objectsOf(st.Relations, knowledge.MayIndicate); len(conditions) > 0 {
		fmt.Fprintf(&b, "These can be associated with: %s.\n", strings.Join(conditions, ", "))
	}
	if len(st.Snippets) > 0 {
		fmt.Fprintf(&b, "Relevant reference: %s\n", truncate(st.Snippets[0].Text, 300))
	}
	if st.ImageDescription != "" {
		fmt.Fprintf(&b, "Image findings: %s\n", truncate(st.ImageDescription, 300))
	}
	return Draft{Answer: b.String(), Risk: &score}, nil
}

func objectsOf(relations []knowledge.Relation, relation string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range relations {
		if r.Relation == relation && !seen[r.Object] {
			seen[r.Object] = true
			out = append(out, r.Object)
		}
	}
	sort.Strings(out)
	return out
}

// DraftEvaluator approves drafts that have text and a known risk.
type DraftEvaluator struct{}

func (DraftEvaluator) Evaluate(_ context.Context, st State) (bool, error) {
	return strings.TrimSpace(st.Draft) != "" && st.Risk != nil, nil
}

const disclaimer = "This is not a substitute for professional medical advice."

// TemplateReporter renders fixed guidance for each band.
type TemplateReporter struct{}

func (TemplateReporter) Report(_ context.Context, st State, band RiskBand) (string, error) {
	score := 0
	if st.Risk != nil {
		score = *st.Risk
	}

	var b strings.Builder
	switch band {
	case BandLow:
		fmt.Fprintf(&b, "Based on what you've described, this looks low risk (%d/10).\n\n", score)
		b.WriteString("Self-care guidance:\n")
		b.WriteString("- Rest and stay well hydrated.\n")
		b.WriteString("- Over-the-counter pain relievers may help if they are safe for you.\n")
		b.WriteString("- Keep an eye on your symptoms over the next few days.\n\n")
		b.WriteString("See a doctor if symptoms get worse, new symptoms appear, or you do not improve within a few days.")
	case BandMedium:
		fmt.Fprintf(&b, "Based on what you've described, this is a moderate risk (%d/10).\n\n", score)
		b.WriteString("Doctor referral: we recommend you see a doctor within the next 24-48 hours.\n")
		b.WriteString("- Until then, rest, stay hydrated and note any changes.\n")
		b.WriteString("- If your symptoms suddenly get worse, seek care sooner.")
	default:
		fmt.Fprintf(&b, "Based on what you've described, this is high risk (%d/10).\n\n", score)
		b.WriteString("Please seek urgent medical attention now: go to the nearest emergency department or call your local emergency number.\n")
		b.WriteString("- Do not drive yourself if you feel faint or short of breath.\n")
		b.WriteString("- If symptoms worsen while waiting, call emergency services immediately.")
	}
	if draft := strings.TrimSpace(st.Draft); draft != "" {
		b.WriteString("\n\nAssessment:\n")
		b.WriteString(draft)
	}
	b.WriteString("\n\n")
	b.WriteString(disclaimer)
	return b.String(), nil
}

// OutOfScopeMessage is returned for messages outside the medical domain.
const OutOfScopeMessage = "I apologize, but I can only help with health and medical-related questions. " +
	"Please ask a medical question, and I'll be happy to assist you."

// TemplateClarifier asks fixed follow-up questions.
type TemplateClarifier struct{}

func (TemplateClarifier) Clarify(_ context.Context, st State) (string, error) {
	if st.ClarifyReason == ClarifyOutOfScope {
		return OutOfScopeMessage, nil
	}
	return "I need more information to help you better:\n\n" +
		"1. How long have you had these symptoms, and are they getting better or worse?\n" +
		"2. How severe are they on a scale from 1 to 10?\n" +
		"3. Do you have any other symptoms, existing conditions, or take any medications?", nil
}

// RuleStages returns the deterministic stage set used without a chat model.
func RuleStages(g *knowledge.Graph) Stages {
	return Stages{
		Classifier: NewKeywordClassifier(g),
		Reasoner:   RuleReasoner{},
		Evaluator:  DraftEvaluator{},
		Reporter:   TemplateReporter{},
		Clarifier:  TemplateClarifier{},
	}
}
