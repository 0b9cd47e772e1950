package consultation

import (
	"fmt"
	"strings"
)

// Policy holds the stage-machine tunables. The symptom threshold is
// configurable rather than hard-coded; product has not confirmed the
// clinical basis for the default of two.
type Policy struct {
	SymptomThreshold int
}

func NewPolicy(symptomThreshold int) *Policy {
	if symptomThreshold < 1 {
		symptomThreshold = 2
	}
	return &Policy{SymptomThreshold: symptomThreshold}
}

// consentTokens are the per-language affirmative tokens checked during
// GREETING. Consent is a safety-relevant boolean, so detection is plain
// keyword matching and never delegated to the completion provider.
var consentTokens = map[string][]string{
	"en": {"yes", "agree", "ok", "okay", "sure", "proceed", "continue"},
	"hi": {"हां", "सहमत", "ठीक", "आगे"},
	"ta": {"ஆம்", "சம்மதிக்கிறேன்", "சரி"},
	"te": {"అవును", "అంగీకరిస్తున్నాను", "సరే"},
	"bn": {"হ্যাঁ", "সম্মত", "ঠিক"},
}

// DetectConsent reports whether the message contains an affirmative token
// for the given language. Unknown languages fall back to English.
func (p *Policy) DetectConsent(message, language string) bool {
	tokens, ok := consentTokens[language]
	if !ok {
		tokens = consentTokens["en"]
	}
	lower := strings.ToLower(message)
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// symptomKeywords trigger the deterministic extraction fallback while in
// SUBJECTIVE, so a provider that skips the tool cannot stall the interview.
var symptomKeywords = []string{
	"symptom", "rash", "pain", "itch", "red", "fever",
	"cough", "sore", "hurt", "burn", "swollen", "blister",
}

// MentionsSymptoms reports whether the message contains any symptom
// indicator keyword.
func (p *Policy) MentionsSymptoms(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range symptomKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Advance evaluates the transition table once per turn. At most one
// conditional transition fires; zero-condition transitions (ASSESSMENT→PLAN,
// SUMMARY→COMPLETED) then drain immediately, which is why a single turn can
// land two stages ahead. Stages never move backwards.
func (p *Policy) Advance(st *State) Stage {
	switch st.Stage {
	case StageGreeting:
		if st.ConsentGiven {
			st.Stage = StageSubjective
		}
	case StageSubjective:
		if len(st.ExtractedSymptoms) >= p.SymptomThreshold {
			st.Stage = StageObjective
		}
	case StageObjective:
		if st.ImageCaptured && st.Analysis != nil {
			st.Stage = StageAssessment
		}
	case StagePlan:
		if st.PlanGenerated {
			st.Stage = StageSummary
		}
	}

	// Drain the always-transitions.
	for {
		switch st.Stage {
		case StageAssessment:
			st.Stage = StagePlan
		case StageSummary:
			st.Stage = StageCompleted
		default:
			return st.Stage
		}
	}
}

// StageContext builds the per-stage instruction text injected before each
// completion call, plus a summary of already-known state so the provider
// does not re-ask for information it has.
func (p *Policy) StageContext(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\nCurrent SOAP stage: %s\n", st.Stage)

	switch st.Stage {
	case StageGreeting:
		b.WriteString("INSTRUCTION: Greet the patient warmly and ask for consent to proceed with an AI-assisted consultation.\n")
	case StageSubjective:
		b.WriteString("INSTRUCTION: When the patient describes symptoms, you MUST call the extract_symptoms function.\n")
	case StageObjective:
		b.WriteString("INSTRUCTION: Ask the patient to provide a photo of the affected skin. When you receive an image, call the analyze_image function.\n")
	case StagePlan:
		b.WriteString("INSTRUCTION: Call the finalize_consultation function to generate the care plan.\n")
	}

	if len(st.ExtractedSymptoms) > 0 {
		fmt.Fprintf(&b, "Extracted symptoms so far: %s\n", strings.Join(st.ExtractedSymptoms, ", "))
	}
	if st.Analysis != nil && len(st.Analysis.Predictions) > 0 {
		top := st.Analysis.Predictions[0]
		fmt.Fprintf(&b, "Prior image analysis: %s (%.0f%% confidence)\n", top.Condition, top.Confidence*100)
	}
	return b.String()
}
