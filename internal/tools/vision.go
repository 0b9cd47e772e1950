package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"derm-kiosk-agent/internal/consultation"
)

// AnalyzeImageArgs are the typed arguments of the analyze_image tool.
type AnalyzeImageArgs struct {
	ImageBase64     string `json:"image_base64"`
	ClinicalContext string `json:"clinical_context,omitempty"`
	Language        string `json:"language,omitempty"`
}

// VisionTool calls the external vision-analysis service (a MedGemma-style
// model behind HTTP) and returns a structured Analysis.
type VisionTool struct {
	httpClient *http.Client
	baseURL    string
}

func NewVisionTool(baseURL string, timeout time.Duration) *VisionTool {
	return &VisionTool{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (t *VisionTool) Name() string { return "analyze_image" }

func (t *VisionTool) Spec() consultation.ToolSpec {
	return consultation.ToolSpec{
		Name:        t.Name(),
		Description: "Analyze a dermatology image with the medical vision model. Call this when the patient provides a photo.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"image_base64": {"type": "string", "description": "Base64-encoded image data"},
				"clinical_context": {"type": "string", "description": "Patient symptoms and context"},
				"language": {"type": "string", "description": "Language code"}
			},
			"required": ["image_base64"]
		}`),
	}
}

type visionResponse struct {
	VisualDescription       string                             `json:"visual_description"`
	Predictions             []consultation.ConditionPrediction `json:"predictions"`
	CriticalFindings        []string                           `json:"critical_findings"`
	RequiresUrgentAttention bool                               `json:"requires_urgent_attention"`
	ConfidenceLevel         string                             `json:"confidence_level"`
}

func (t *VisionTool) Invoke(ctx context.Context, raw json.RawMessage) consultation.ToolResult {
	var args AnalyzeImageArgs
	if err := decodeArgs(raw, &args); err != nil {
		return failure(fmt.Sprintf("analyze_image: bad arguments: %v", err))
	}
	if args.ImageBase64 == "" {
		return failure("analyze_image: image_base64 is required")
	}
	// Strip a data-URL prefix if the front end sent one.
	if i := strings.IndexByte(args.ImageBase64, ','); i >= 0 && strings.HasPrefix(args.ImageBase64, "data:image") {
		args.ImageBase64 = args.ImageBase64[i+1:]
	}

	body, err := json.Marshal(args)
	if err != nil {
		return failure(fmt.Sprintf("analyze_image: encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return failure(fmt.Sprintf("analyze_image: build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		slog.Error("vision service call failed", "error", err)
		return failure(fmt.Sprintf("analyze_image: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return failure(fmt.Sprintf("analyze_image: vision service error: %s - %s", resp.Status, string(respBody)))
	}

	var vr visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return failure(fmt.Sprintf("analyze_image: decode response: %v", err))
	}

	analysis := &consultation.Analysis{
		VisualDescription:       vr.VisualDescription,
		Predictions:             vr.Predictions,
		CriticalFindings:        vr.CriticalFindings,
		RequiresUrgentAttention: vr.RequiresUrgentAttention,
		ConfidenceLevel:         vr.ConfidenceLevel,
	}
	return consultation.ToolResult{Success: true, Data: analysis}
}
