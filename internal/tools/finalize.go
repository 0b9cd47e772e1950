package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"derm-kiosk-agent/internal/consultation"
)

// FinalizeArgs are the typed arguments of the finalize_consultation tool.
// The orchestrator builds them from session state rather than trusting
// provider-supplied values.
type FinalizeArgs struct {
	Symptoms     []string                   `json:"symptoms"`
	Analysis     *consultation.Analysis     `json:"analysis,omitempty"`
	SimilarCases []consultation.SimilarCase `json:"similar_cases,omitempty"`
	Language     string                     `json:"language,omitempty"`
}

// FinalizeTool produces the care plan that closes a consultation, using the
// completion provider to compose guidance from everything gathered so far.
type FinalizeTool struct {
	completer consultation.Completer
}

func NewFinalizeTool(completer consultation.Completer) *FinalizeTool {
	return &FinalizeTool{completer: completer}
}

func (t *FinalizeTool) Name() string { return "finalize_consultation" }

func (t *FinalizeTool) Spec() consultation.ToolSpec {
	return consultation.ToolSpec{
		Name:        t.Name(),
		Description: "Generate the final care plan from the gathered symptoms, image analysis and similar cases. Call this when the consultation reaches the plan stage.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symptoms": {"type": "array", "items": {"type": "string"}, "description": "All extracted symptoms"},
				"language": {"type": "string", "description": "Language code for the plan text"}
			},
			"required": ["symptoms"]
		}`),
	}
}

const finalizeSystemPrompt = `You are preparing the closing summary of an AI-assisted skin consultation. You never diagnose and never prescribe.
From the provided symptoms, image analysis and similar cases, write practical guidance: general skin care advice, what to tell a doctor, and when to seek care.
Respond with ONLY a JSON object, no prose:
{"guidance_text": "...", "urgency_level": "emergency|urgent|routine|self_care", "next_steps": ["..."], "follow_up_days": N}`

func (t *FinalizeTool) Invoke(ctx context.Context, raw json.RawMessage) consultation.ToolResult {
	var args FinalizeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(fmt.Sprintf("finalize_consultation: bad arguments: %v", err))
	}

	completion, err := t.completer.Complete(ctx, consultation.CompletionRequest{
		System: finalizeSystemPrompt,
		Messages: []consultation.Message{
			{Role: "user", Content: buildFinalizeContext(args)},
		},
	})
	if err != nil {
		slog.Error("finalize call failed", "error", err)
		return failure(fmt.Sprintf("finalize_consultation: %v", err))
	}

	plan := parsePlan(completion.Text)
	slog.Debug("care plan generated", "urgency", plan.UrgencyLevel)
	return consultation.ToolResult{Success: true, Data: plan}
}

func buildFinalizeContext(args FinalizeArgs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reported symptoms: %s\n", strings.Join(args.Symptoms, ", "))

	if args.Analysis != nil {
		fmt.Fprintf(&b, "Image findings: %s\n", args.Analysis.VisualDescription)
		for _, p := range args.Analysis.Predictions {
			fmt.Fprintf(&b, "- possible %s (%.0f%% confidence, urgency %s)\n", p.Condition, p.Confidence*100, p.UrgencyLevel)
		}
		if args.Analysis.RequiresUrgentAttention {
			b.WriteString("The image analysis flagged this as requiring urgent attention.\n")
		}
	}
	for _, c := range args.SimilarCases {
		fmt.Fprintf(&b, "Similar past case: %s (%.0f%% match), treated with: %s\n", c.Condition, c.SimilarityScore*100, c.Treatment)
	}
	if args.Language != "" && args.Language != "en" {
		fmt.Fprintf(&b, "Write the guidance in language code %q.\n", args.Language)
	}
	return b.String()
}

// parsePlan decodes the model's JSON plan, falling back to the raw text as
// guidance when the output is not valid JSON. A plan is always produced.
func parsePlan(text string) *consultation.Plan {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start >= 0 && end > start {
		var plan consultation.Plan
		if err := json.Unmarshal([]byte(text[start:end+1]), &plan); err == nil && plan.GuidanceText != "" {
			if plan.UrgencyLevel == "" {
				plan.UrgencyLevel = "routine"
			}
			return &plan
		}
	}
	return &consultation.Plan{
		GuidanceText: strings.TrimSpace(text),
		UrgencyLevel: "routine",
	}
}
