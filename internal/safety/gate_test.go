package safety

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckMessageDiagnosisRequest(t *testing.T) {
	g := NewGate()

	for _, msg := range []string{
		"Can you diagnose me please?",
		"what do i have on my arm",
		"Is this cancer?",
	} {
		verdict := g.CheckMessage(msg)
		assert.True(t, verdict.Flagged, msg)
		assert.Equal(t, []string{FlagDiagnosisRequest}, verdict.Flags, msg)
		assert.NotEmpty(t, verdict.Redirect)
	}
}

func TestCheckMessagePrescriptionRequest(t *testing.T) {
	g := NewGate()

	verdict := g.CheckMessage("What medicine should I take for this?")
	assert.True(t, verdict.Flagged)
	assert.Equal(t, []string{FlagPrescriptionRequest}, verdict.Flags)
	assert.Contains(t, verdict.Redirect, "licensed doctor or pharmacist")
}

func TestCheckMessageEmergencySymptoms(t *testing.T) {
	g := NewGate()

	verdict := g.CheckMessage("the rash is spreading rapidly and I have a high fever")
	assert.True(t, verdict.Flagged)
	assert.Equal(t, []string{FlagEmergencySymptoms}, verdict.Flags)
	assert.Contains(t, verdict.Redirect, "emergency")
}

func TestCheckMessageEmergencyWinsOverDiagnosis(t *testing.T) {
	g := NewGate()

	verdict := g.CheckMessage("do i have something bad? i can't breathe")
	assert.Equal(t, []string{FlagEmergencySymptoms}, verdict.Flags)
}

func TestCheckMessageClean(t *testing.T) {
	g := NewGate()

	verdict := g.CheckMessage("I noticed a small itchy patch on my elbow yesterday")
	assert.False(t, verdict.Flagged)
	assert.Empty(t, verdict.Flags)
	assert.Empty(t, verdict.Redirect)
}

func TestCheckConditions(t *testing.T) {
	g := NewGate()

	critical, which := g.CheckConditions([]string{"eczema", "Melanoma", "contact dermatitis"})
	assert.True(t, critical)
	assert.Equal(t, []string{"Melanoma"}, which)

	critical, which = g.CheckConditions([]string{"eczema", "psoriasis"})
	assert.False(t, critical)
	assert.Empty(t, which)
}

func TestCheckConditionsMatchesSpacedNames(t *testing.T) {
	g := NewGate()

	critical, which := g.CheckConditions([]string{"basal cell carcinoma"})
	assert.True(t, critical)
	assert.Equal(t, []string{"basal cell carcinoma"}, which)
}

func TestSanitizeReplySoftensDefinitiveLanguage(t *testing.T) {
	g := NewGate()

	out := g.SanitizeReply("You have eczema. This is definitely a fungal infection.")
	assert.NotContains(t, out, "You have")
	assert.Contains(t, out, "This may be")
	assert.Contains(t, out, "This appears to be")
}

func TestSanitizeReplyAppendsDisclaimerOnce(t *testing.T) {
	g := NewGate()

	out := g.SanitizeReply("Keep the area clean and dry.")
	assert.Contains(t, out, "not a medical diagnosis")

	again := g.SanitizeReply(out)
	assert.Equal(t, 1, strings.Count(again, "not a medical diagnosis"))
}
