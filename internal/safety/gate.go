// Package safety implements the deterministic guardrails for the
// consultation flow. The core rule is "do not play doctor": never diagnose,
// never prescribe, always route serious findings to professional care.
package safety

import (
	"strings"

	"derm-kiosk-agent/internal/consultation"
)

// Flag values recorded on a tripped verdict.
const (
	FlagDiagnosisRequest    = "diagnosis_request"
	FlagPrescriptionRequest = "prescription_request"
	FlagEmergencySymptoms   = "emergency_symptoms"
)

var diagnosisPatterns = []string{
	"what do i have",
	"diagnose me",
	"tell me what this is",
	"is this cancer",
	"do i have",
	"am i sick",
	"what disease",
	"what condition do i have",
}

var prescriptionPatterns = []string{
	"what medicine should i take",
	"prescribe me",
	"what medication",
	"what drug should",
	"give me pills",
	"what cream should i use",
	"what antibiotic",
	"what steroid",
}

var emergencyPatterns = []string{
	"can't breathe",
	"difficulty breathing",
	"chest pain",
	"spreading rapidly",
	"high fever",
	"swelling throat",
	"losing consciousness",
	"severe bleeding",
	"unbearable pain",
	"purple spots",
	"blisters everywhere",
}

// criticalConditions require escalation whenever they appear among the
// image-analysis predictions, regardless of model-reported urgency.
var criticalConditions = []string{
	"melanoma",
	"squamous_cell_carcinoma",
	"basal_cell_carcinoma",
	"cellulitis",
	"necrotizing_fasciitis",
	"stevens_johnson_syndrome",
	"toxic_epidermal_necrolysis",
	"meningococcal_rash",
	"anaphylaxis",
	"severe_burns",
	"pemphigus",
	"drug_reaction",
}

const disclaimer = "\n\nRemember: This is not a medical diagnosis. Please consult a healthcare professional for proper evaluation and treatment."

// Gate is a stateless pattern matcher; safe for concurrent use.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// CheckMessage classifies a user message. A flagged verdict carries the
// canned redirect text the orchestrator returns instead of the provider's
// reply.
func (g *Gate) CheckMessage(text string) consultation.SafetyVerdict {
	lower := strings.ToLower(text)

	for _, p := range emergencyPatterns {
		if strings.Contains(lower, p) {
			return consultation.SafetyVerdict{
				Flagged:  true,
				Flags:    []string{FlagEmergencySymptoms},
				Redirect: emergencyRedirect,
			}
		}
	}
	for _, p := range diagnosisPatterns {
		if strings.Contains(lower, p) {
			return consultation.SafetyVerdict{
				Flagged:  true,
				Flags:    []string{FlagDiagnosisRequest},
				Redirect: diagnosisRedirect,
			}
		}
	}
	for _, p := range prescriptionPatterns {
		if strings.Contains(lower, p) {
			return consultation.SafetyVerdict{
				Flagged:  true,
				Flags:    []string{FlagPrescriptionRequest},
				Redirect: prescriptionRedirect,
			}
		}
	}
	return consultation.SafetyVerdict{Flagged: false}
}

// CheckConditions reports whether any predicted condition is on the
// critical list, and which ones.
func (g *Gate) CheckConditions(conditions []string) (bool, []string) {
	var critical []string
	for _, c := range conditions {
		normalized := strings.ReplaceAll(strings.ToLower(c), " ", "_")
		for _, crit := range criticalConditions {
			if strings.Contains(normalized, crit) || strings.Contains(crit, normalized) {
				critical = append(critical, c)
				break
			}
		}
	}
	return len(critical) > 0, critical
}

// SanitizeReply softens definitive diagnosis language in an assistant reply
// and guarantees the disclaimer is present.
func (g *Gate) SanitizeReply(text string) string {
	replacements := [][2]string{
		{"you have", "this may be"},
		{"this is definitely", "this appears to be"},
		{"this is certainly", "this looks like"},
		{"you are suffering from", "you may be experiencing"},
		{"i diagnose", "based on what you've shared, this could be"},
	}

	out := text
	for _, r := range replacements {
		out = strings.ReplaceAll(out, r[0], r[1])
		out = strings.ReplaceAll(out, capitalize(r[0]), capitalize(r[1]))
	}
	if !strings.Contains(strings.ToLower(out), "not a medical diagnosis") {
		out += disclaimer
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const diagnosisRedirect = `I understand you want to know what this is, but I'm not able to diagnose medical conditions - only a doctor can do that.

What I CAN do is help gather information about your symptoms, look at photos of the condition, find similar cases in our medical database, and help you prepare to see a doctor.

Would you like to continue describing your symptoms so I can help you prepare for a medical consultation?`

const prescriptionRedirect = `I'm not able to prescribe or recommend specific medications - that's something only a licensed doctor or pharmacist can do safely.

What I can suggest is general hygiene practices, like keeping the area clean and dry, and when to seek medical attention. For specific treatment, please consult a healthcare provider.

Is there anything else I can help you with to prepare for your doctor visit?`

const emergencyRedirect = `The symptoms you're describing sound serious and may require immediate medical attention.

PLEASE DO NOT WAIT - go to the nearest hospital or emergency room now. If you're unable to get there yourself, call for emergency medical services or ask someone nearby to help you.

We can continue this consultation after you've been seen by medical professionals.`
