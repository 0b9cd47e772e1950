package consultation

import (
	"context"
	"encoding/json"
	"time"
)

// Stage is one phase of the SOAP consultation state machine.
type Stage string

const (
	StageGreeting   Stage = "GREETING"
	StageSubjective Stage = "SUBJECTIVE"
	StageObjective  Stage = "OBJECTIVE"
	StageAssessment Stage = "ASSESSMENT"
	StagePlan       Stage = "PLAN"
	StageSummary    Stage = "SUMMARY"
	StageCompleted  Stage = "COMPLETED"
)

// stageOrder fixes the total order of stages. COMPLETED is terminal.
var stageOrder = []Stage{
	StageGreeting,
	StageSubjective,
	StageObjective,
	StageAssessment,
	StagePlan,
	StageSummary,
	StageCompleted,
}

// Index returns the stage's position in the fixed order, or -1 for an
// unknown stage.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Symptom is one extracted medical symptom.
type Symptom struct {
	Name     string `json:"name"`
	Duration string `json:"duration,omitempty"`
	Severity string `json:"severity,omitempty"`
	Location string `json:"location,omitempty"`
}

// ConditionPrediction is a single condition hypothesis from image analysis.
type ConditionPrediction struct {
	Condition    string  `json:"condition"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning,omitempty"`
	IsCritical   bool    `json:"is_critical"`
	UrgencyLevel string  `json:"urgency_level"` // emergency, urgent, routine, self_care
}

// Analysis is the structured result of one image-analysis pass. Each new
// analysis overwrites the previous one.
type Analysis struct {
	VisualDescription       string                `json:"visual_description"`
	Predictions             []ConditionPrediction `json:"predictions"`
	CriticalFindings        []string              `json:"critical_findings,omitempty"`
	RequiresUrgentAttention bool                  `json:"requires_urgent_attention"`
	ConfidenceLevel         string                `json:"confidence_level"` // low, moderate, high
}

// SimilarCase is one retrieved precedent from the dermatology case index.
type SimilarCase struct {
	CaseID          string   `json:"case_id"`
	Condition       string   `json:"condition"`
	SimilarityScore float64  `json:"similarity_score"`
	KeyFeatures     []string `json:"key_features,omitempty"`
	Treatment       string   `json:"treatment,omitempty"`
}

// Plan is the final care plan produced when the consultation is finalized.
type Plan struct {
	GuidanceText string   `json:"guidance_text"`
	UrgencyLevel string   `json:"urgency_level"`
	NextSteps    []string `json:"next_steps,omitempty"`
	FollowUpDays int      `json:"follow_up_days,omitempty"`
}

// State holds everything known about one consultation session. It is owned
// by the Store and mutated only by the Service during a turn.
type State struct {
	SessionID    string `json:"session_id"`
	Language     string `json:"language"`
	Stage        Stage  `json:"stage"`
	ConsentGiven bool   `json:"consent_given"`

	ExtractedSymptoms []string `json:"extracted_symptoms"`

	ImageCaptured bool   `json:"image_captured"`
	PendingImage  string `json:"-"` // base64, at most one un-consumed image

	Analysis     *Analysis     `json:"analysis,omitempty"`
	SimilarCases []SimilarCase `json:"similar_cases,omitempty"`

	PlanGenerated bool  `json:"plan_generated"`
	Plan          *Plan `json:"plan,omitempty"`

	// MessageHistory is the single source of truth for conversation replay.
	// Only the most recent entries are sent to the completion provider; the
	// rest are kept for audit purposes.
	MessageHistory []Message `json:"message_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecentHistory returns up to n of the newest history entries.
func (s *State) RecentHistory(n int) []Message {
	if n <= 0 || len(s.MessageHistory) <= n {
		return s.MessageHistory
	}
	return s.MessageHistory[len(s.MessageHistory)-n:]
}

// Clone returns a deep copy so a turn can mutate state privately and merge
// atomically on Save.
func (s *State) Clone() *State {
	cp := *s
	cp.ExtractedSymptoms = append([]string(nil), s.ExtractedSymptoms...)
	cp.SimilarCases = append([]SimilarCase(nil), s.SimilarCases...)
	cp.MessageHistory = append([]Message(nil), s.MessageHistory...)
	if s.Analysis != nil {
		a := *s.Analysis
		a.Predictions = append([]ConditionPrediction(nil), s.Analysis.Predictions...)
		a.CriticalFindings = append([]string(nil), s.Analysis.CriticalFindings...)
		cp.Analysis = &a
	}
	if s.Plan != nil {
		p := *s.Plan
		p.NextSteps = append([]string(nil), s.Plan.NextSteps...)
		cp.Plan = &p
	}
	return &cp
}

// ToolSpec declares one tool to the completion provider.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema for the arguments object
}

// ToolCall is a provider-requested (or orchestrator-forced) tool invocation.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the uniform outcome of a tool invocation. Data carries a
// typed payload per tool ([]Symptom, *Analysis, []SimilarCase, *Plan or
// *SafetyVerdict), never an untyped map.
type ToolResult struct {
	Success bool
	Data    any
	Err     string
}

// SafetyVerdict is the safety tool's payload.
type SafetyVerdict struct {
	Flagged  bool     `json:"flagged"`
	Flags    []string `json:"flags,omitempty"`
	Redirect string   `json:"redirect,omitempty"`
}

// Completion is what the completion provider produced for one request.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
}

// CompletionRequest carries the inputs of one provider call.
type CompletionRequest struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	ImageBase64 string // optional, attached to the newest user message
}

// Completer is the completion-provider boundary. Declared here, in the
// consuming package, to decouple from the concrete client.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ToolInvoker dispatches tool calls by name. Implemented by the tool
// registry; the Service never assumes a tool name beyond this lookup.
type ToolInvoker interface {
	Invoke(ctx context.Context, call ToolCall) ToolResult
	Specs() []ToolSpec
}

// SafetyGate is the synchronous pre-check run on every user message, plus
// the criticality and reply-sanitation hooks used during state merge.
type SafetyGate interface {
	CheckMessage(text string) SafetyVerdict
	CheckConditions(conditions []string) (bool, []string)
	SanitizeReply(text string) string
}
