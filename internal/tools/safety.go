package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"derm-kiosk-agent/internal/consultation"
)

// CheckSafetyArgs are the typed arguments of the check_message_safety tool.
type CheckSafetyArgs struct {
	Message string `json:"message"`
}

// SafetyTool exposes the gate's message check through the tool contract so
// the provider can ask for an explicit re-check mid-conversation. The
// orchestrator still runs the gate synchronously on every turn regardless.
type SafetyTool struct {
	gate consultation.SafetyGate
}

func NewSafetyTool(gate consultation.SafetyGate) *SafetyTool {
	return &SafetyTool{gate: gate}
}

func (t *SafetyTool) Name() string { return "check_message_safety" }

func (t *SafetyTool) Spec() consultation.ToolSpec {
	return consultation.ToolSpec{
		Name:        t.Name(),
		Description: "Check a message for diagnosis requests, prescription requests or emergency symptoms.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"message": {"type": "string", "description": "The message to check"}
			},
			"required": ["message"]
		}`),
	}
}

func (t *SafetyTool) Invoke(_ context.Context, raw json.RawMessage) consultation.ToolResult {
	var args CheckSafetyArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(fmt.Sprintf("check_message_safety: bad arguments: %v", err))
	}
	if args.Message == "" {
		return failure("check_message_safety: message is required")
	}

	verdict := t.gate.CheckMessage(args.Message)
	return consultation.ToolResult{Success: true, Data: &verdict}
}
