package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"derm-kiosk-agent/internal/consultation"
)

// ExtractSymptomsArgs are the typed arguments of the extract_symptoms tool.
type ExtractSymptomsArgs struct {
	PatientMessage string `json:"patient_message"`
	Language       string `json:"language,omitempty"`
}

// ExtractTool pulls structured symptoms out of free-form patient text using
// the completion provider.
type ExtractTool struct {
	completer consultation.Completer
}

func NewExtractTool(completer consultation.Completer) *ExtractTool {
	return &ExtractTool{completer: completer}
}

func (t *ExtractTool) Name() string { return "extract_symptoms" }

func (t *ExtractTool) Spec() consultation.ToolSpec {
	return consultation.ToolSpec{
		Name:        t.Name(),
		Description: "Extract structured medical symptoms from the patient's message. Call this whenever the patient describes how they feel.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"patient_message": {"type": "string", "description": "The patient's message to extract symptoms from"},
				"language": {"type": "string", "description": "Language code of the message"}
			},
			"required": ["patient_message"]
		}`),
	}
}

const extractSystemPrompt = `You are a medical symptom extraction assistant. Extract symptoms from the patient's message.
Respond with ONLY a JSON array, no prose. Each element: {"name": "...", "duration": "...", "severity": "...", "location": "..."}.
Use short lowercase names (e.g. "itchy rash", "fever"). Omit fields you cannot determine. Return [] if no symptoms are present.`

func (t *ExtractTool) Invoke(ctx context.Context, raw json.RawMessage) consultation.ToolResult {
	var args ExtractSymptomsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(fmt.Sprintf("extract_symptoms: bad arguments: %v", err))
	}
	if strings.TrimSpace(args.PatientMessage) == "" {
		return failure("extract_symptoms: patient_message is required")
	}

	content := args.PatientMessage
	if args.Language != "" && args.Language != "en" {
		content = fmt.Sprintf("%s\n\nThe message is in language code %q. Extract the symptom names in English.", args.PatientMessage, args.Language)
	}

	completion, err := t.completer.Complete(ctx, consultation.CompletionRequest{
		System: extractSystemPrompt,
		Messages: []consultation.Message{
			{Role: "user", Content: content},
		},
	})
	if err != nil {
		slog.Error("symptom extraction call failed", "error", err)
		return failure(fmt.Sprintf("extract_symptoms: %v", err))
	}

	symptoms, err := parseSymptoms(completion.Text)
	if err != nil {
		return failure(fmt.Sprintf("extract_symptoms: parse model output: %v", err))
	}

	slog.Debug("symptoms extracted", "count", len(symptoms))
	return consultation.ToolResult{Success: true, Data: symptoms}
}

// parseSymptoms is lenient about the model wrapping the array in markdown
// fences or prose; it decodes the first JSON array found in the text.
func parseSymptoms(text string) ([]consultation.Symptom, error) {
	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in output")
	}

	var symptoms []consultation.Symptom
	if err := json.Unmarshal([]byte(text[start:end+1]), &symptoms); err != nil {
		return nil, err
	}

	out := symptoms[:0]
	for _, s := range symptoms {
		s.Name = strings.ToLower(strings.TrimSpace(s.Name))
		if s.Name != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
