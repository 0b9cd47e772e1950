package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"derm-kiosk-agent/internal/consultation"
)

type echoTool struct{ name string }

func (t echoTool) Name() string { return t.name }

func (t echoTool) Spec() consultation.ToolSpec {
	return consultation.ToolSpec{Name: t.name, Parameters: json.RawMessage(`{}`)}
}

func (t echoTool) Invoke(_ context.Context, args json.RawMessage) consultation.ToolResult {
	return consultation.ToolResult{Success: true, Data: string(args)}
}

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{name: "echo"})

	result := r.Invoke(context.Background(), consultation.ToolCall{
		Name: "echo",
		Args: json.RawMessage(`{"k":"v"}`),
	})
	require.True(t, result.Success)
	assert.Equal(t, `{"k":"v"}`, result.Data)
}

func TestRegistryUnknownToolFailsSoftly(t *testing.T) {
	r := NewRegistry()

	result := r.Invoke(context.Background(), consultation.ToolCall{Name: "nope"})
	assert.False(t, result.Success)
	assert.Contains(t, result.Err, "unknown tool")
}

func TestRegistrySpecsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{name: "zeta"})
	r.Register(echoTool{name: "alpha"})
	r.Register(echoTool{name: "mid"})

	specs := r.Specs()
	require.Len(t, specs, 3)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "mid", specs[1].Name)
	assert.Equal(t, "zeta", specs[2].Name)
}

func TestRegistryReplaceByName(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{name: "dup"})
	r.Register(echoTool{name: "dup"})

	assert.Len(t, r.Specs(), 1)
}

func TestParseSymptomsLenient(t *testing.T) {
	symptoms, err := parseSymptoms("Here you go:\n```json\n[{\"name\": \"Itchy Rash\", \"location\": \"arm\"}, {\"name\": \"fever\"}]\n```")
	require.NoError(t, err)
	require.Len(t, symptoms, 2)
	assert.Equal(t, "itchy rash", symptoms[0].Name)
	assert.Equal(t, "arm", symptoms[0].Location)
}

func TestParseSymptomsEmptyArray(t *testing.T) {
	symptoms, err := parseSymptoms("[]")
	require.NoError(t, err)
	assert.Empty(t, symptoms)
}

func TestParseSymptomsNoJSON(t *testing.T) {
	_, err := parseSymptoms("I could not find any symptoms.")
	assert.Error(t, err)
}

func TestParseSymptomsDropsUnnamed(t *testing.T) {
	symptoms, err := parseSymptoms(`[{"name": "  "}, {"name": "rash"}]`)
	require.NoError(t, err)
	require.Len(t, symptoms, 1)
	assert.Equal(t, "rash", symptoms[0].Name)
}

func TestParsePlanJSON(t *testing.T) {
	plan := parsePlan(`{"guidance_text": "Keep it clean.", "urgency_level": "urgent", "next_steps": ["see a doctor"], "follow_up_days": 3}`)
	assert.Equal(t, "Keep it clean.", plan.GuidanceText)
	assert.Equal(t, "urgent", plan.UrgencyLevel)
	assert.Equal(t, []string{"see a doctor"}, plan.NextSteps)
	assert.Equal(t, 3, plan.FollowUpDays)
}

func TestParsePlanFallsBackToRawText(t *testing.T) {
	plan := parsePlan("Please keep the area clean and see a doctor soon.")
	assert.Equal(t, "Please keep the area clean and see a doctor soon.", plan.GuidanceText)
	assert.Equal(t, "routine", plan.UrgencyLevel)
}

func TestParsePlanDefaultsUrgency(t *testing.T) {
	plan := parsePlan(`{"guidance_text": "Rest."}`)
	assert.Equal(t, "routine", plan.UrgencyLevel)
}
