package consultation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Tool names the orchestrator knows about. Dispatch itself stays uniform
// through the ToolInvoker; these names only drive ordering, forced calls and
// the typed state merge.
const (
	toolExtractSymptoms = "extract_symptoms"
	toolAnalyzeImage    = "analyze_image"
	toolFindSimilar     = "find_similar_cases"
	toolFinalize        = "finalize_consultation"
)

const baseSystemPrompt = `You are a friendly AI health assistant in a skin-health kiosk, guiding patients through a structured consultation.

Rules you must never break:
- You are NOT a doctor. Never diagnose and never prescribe medication.
- Frame every finding as a possibility, not a conclusion.
- Encourage the patient to see a healthcare professional.
- Keep replies short, warm and easy to understand.
- When a function is available for the current step, call it instead of answering from memory.`

const providerFailureReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."

// TurnRequest is one user turn.
type TurnRequest struct {
	SessionID   string `json:"session_id"`
	Language    string `json:"language,omitempty"`
	Message     string `json:"message" validate:"required"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// TurnResponse is what the kiosk front end renders after a turn.
type TurnResponse struct {
	SessionID         string        `json:"session_id"`
	Reply             string        `json:"reply"`
	Stage             Stage         `json:"stage"`
	StageChanged      bool          `json:"stage_changed"`
	ExtractedSymptoms []string      `json:"extracted_symptoms,omitempty"`
	HasImage          bool          `json:"has_image"`
	Analysis          *Analysis     `json:"analysis,omitempty"`
	SimilarCases      []SimilarCase `json:"similar_cases,omitempty"`
	Plan              *Plan         `json:"plan,omitempty"`
	ToolsUsed         []string      `json:"tools_used,omitempty"`
	SafetyTriggered   bool          `json:"safety_triggered"`
	SafetyFlags       []string      `json:"safety_flags,omitempty"`
	Completed         bool          `json:"completed"`
}

func turnResponse(st *State, reply string, startStage Stage) *TurnResponse {
	return &TurnResponse{
		SessionID:         st.SessionID,
		Reply:             reply,
		Stage:             st.Stage,
		StageChanged:      st.Stage != startStage,
		ExtractedSymptoms: st.ExtractedSymptoms,
		HasImage:          st.ImageCaptured,
		Analysis:          st.Analysis,
		SimilarCases:      st.SimilarCases,
		Plan:              st.Plan,
		Completed:         st.Stage == StageCompleted,
	}
}

// Options are the turn-processing tunables.
type Options struct {
	HistoryWindow int
	SimilarTopK   int
	SimilarMin    float64
	RetryBackoff  time.Duration
	ToolTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 10
	}
	if o.SimilarTopK <= 0 {
		o.SimilarTopK = 3
	}
	if o.SimilarMin <= 0 {
		o.SimilarMin = 0.7
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 30 * time.Second
	}
	return o
}

// Service orchestrates consultation turns: safety gate, provider call, tool
// dispatch, state merge and stage advance.
type Service struct {
	store     Store
	completer Completer
	tools     ToolInvoker
	gate      SafetyGate
	policy    *Policy
	opts      Options
}

func NewService(store Store, completer Completer, tools ToolInvoker, gate SafetyGate, policy *Policy, opts Options) *Service {
	return &Service{
		store:     store,
		completer: completer,
		tools:     tools,
		gate:      gate,
		policy:    policy,
		opts:      opts.withDefaults(),
	}
}

// ProcessTurn runs one full user turn under the session's lock. Tool
// failures never abort the turn; only a provider failure (after one retry)
// short-circuits, and even then the user message is preserved.
func (s *Service) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	st := s.store.Create(req.SessionID, req.Language)

	unlock := s.store.Lock(st.SessionID)
	defer unlock()

	// Re-read under the lock; Create's snapshot may be stale.
	if cur, err := s.store.Get(st.SessionID); err == nil {
		st = cur
	}

	startStage := st.Stage
	st.MessageHistory = append(st.MessageHistory, Message{
		Role: "user", Content: req.Message, Timestamp: time.Now(),
	})
	if req.ImageBase64 != "" {
		st.PendingImage = req.ImageBase64
		st.ImageCaptured = true
	}

	// Safety gate runs before anything reaches the provider.
	if verdict := s.gate.CheckMessage(req.Message); verdict.Flagged {
		slog.Warn("message flagged by safety gate", "session_id", st.SessionID, "flags", verdict.Flags)
		st.MessageHistory = append(st.MessageHistory, Message{
			Role: "assistant", Content: verdict.Redirect, Timestamp: time.Now(),
		})
		if err := s.store.Save(st); err != nil {
			return nil, err
		}
		resp := turnResponse(st, verdict.Redirect, startStage)
		resp.SafetyTriggered = true
		resp.SafetyFlags = verdict.Flags
		return resp, nil
	}

	// Consent is decided deterministically, never by the provider.
	if st.Stage == StageGreeting && s.policy.DetectConsent(req.Message, st.Language) {
		st.ConsentGiven = true
	}

	completion, err := s.completeWithRetry(ctx, st)
	if err != nil {
		// Nothing is saved: the session stays exactly as it was before the
		// turn, so the user can simply resend.
		slog.Error("completion provider failed", "session_id", st.SessionID, "error", err)
		prev, getErr := s.store.Get(st.SessionID)
		if getErr != nil {
			prev = st
		}
		return turnResponse(prev, providerFailureReply, startStage), nil
	}

	calls := s.planToolCalls(st, req, completion.ToolCalls)
	toolsUsed := s.runToolCalls(ctx, st, calls)

	reply := strings.TrimSpace(completion.Text)

	// When the image analysis landed this turn, ask the provider to present
	// the findings; its original reply predates them.
	if st.Analysis != nil && contains(toolsUsed, toolAnalyzeImage) {
		if followUp := s.describeFindings(ctx, st); followUp != "" {
			reply = followUp
		}
	}
	if reply == "" && st.Plan != nil {
		reply = st.Plan.GuidanceText
	}
	if reply == "" {
		reply = "Thank you. Could you tell me a bit more?"
	}
	reply = s.gate.SanitizeReply(reply)

	st.MessageHistory = append(st.MessageHistory, Message{
		Role: "assistant", Content: reply, Timestamp: time.Now(),
	})

	s.policy.Advance(st)
	if err := s.store.Save(st); err != nil {
		return nil, err
	}

	slog.Info("turn processed",
		"session_id", st.SessionID,
		"stage", st.Stage,
		"tools", toolsUsed)

	resp := turnResponse(st, reply, startStage)
	resp.ToolsUsed = toolsUsed
	return resp, nil
}

// ActiveSessions reports how many consultations are currently held in the
// store.
func (s *Service) ActiveSessions() int {
	return s.store.Count()
}

// Get returns a read-only snapshot of the session state.
func (s *Service) Get(sessionID string) (*State, error) {
	return s.store.Get(sessionID)
}

// Delete removes a session.
func (s *Service) Delete(sessionID string) bool {
	return s.store.Delete(sessionID)
}

func (s *Service) completeWithRetry(ctx context.Context, st *State) (*Completion, error) {
	req := CompletionRequest{
		System:      baseSystemPrompt + s.policy.StageContext(st),
		Messages:    st.RecentHistory(s.opts.HistoryWindow),
		Tools:       s.tools.Specs(),
		ImageBase64: st.PendingImage,
	}

	completion, err := s.complete(ctx, req)
	if err == nil {
		return completion, nil
	}

	slog.Warn("completion failed, retrying once", "session_id", st.SessionID, "error", err)
	select {
	case <-time.After(s.opts.RetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.complete(ctx, req)
}

// complete bounds one provider call with the per-call timeout.
func (s *Service) complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
	defer cancel()
	return s.completer.Complete(callCtx, req)
}

// planToolCalls turns the provider's requested calls into the ordered list
// the turn will actually execute. Three adjustments happen here: the
// deterministic symptom-extraction fallback, the image-present fallback, and
// the rule that a case search runs before any image analysis.
func (s *Service) planToolCalls(st *State, req TurnRequest, requested []ToolCall) []ToolCall {
	calls := requested

	if st.Stage == StageSubjective && !callsInclude(calls, toolExtractSymptoms) && s.policy.MentionsSymptoms(req.Message) {
		slog.Debug("forcing symptom extraction", "session_id", st.SessionID)
		calls = append(calls, s.forcedCall(toolExtractSymptoms, extractArgs{
			PatientMessage: req.Message,
			Language:       st.Language,
		}))
	}

	if st.Stage == StageObjective && st.PendingImage != "" && !callsInclude(calls, toolAnalyzeImage) {
		slog.Debug("forcing image analysis for provided image", "session_id", st.SessionID)
		calls = append(calls, s.forcedCall(toolAnalyzeImage, analyzeArgs{
			ImageBase64: st.PendingImage,
			Language:    st.Language,
		}))
	}

	calls = s.applyOrderingRules(st, calls)

	if st.Stage == StagePlan && !st.PlanGenerated && !callsInclude(calls, toolFinalize) {
		slog.Debug("forcing consultation finalize", "session_id", st.SessionID)
		calls = append(calls, s.forcedCall(toolFinalize, finalizeArgs{
			Symptoms: st.ExtractedSymptoms,
			Language: st.Language,
		}))
	}
	return calls
}

// orderingRules declare which tools must run before which. The precursor is
// inserted when missing; its results land in state before the target runs,
// which is how the case search enriches the image analysis.
var orderingRules = []struct {
	precursor string
	target    string
}{
	{precursor: toolFindSimilar, target: toolAnalyzeImage},
}

func (s *Service) applyOrderingRules(st *State, calls []ToolCall) []ToolCall {
	for _, rule := range orderingRules {
		i := callIndex(calls, rule.target)
		if i < 0 || callsInclude(calls[:i], rule.precursor) {
			continue
		}
		image := st.PendingImage
		if image == "" {
			var a analyzeArgs
			_ = json.Unmarshal(calls[i].Args, &a)
			image = a.ImageBase64
		}
		if image == "" {
			continue
		}
		pre := s.forcedCall(rule.precursor, similarArgs{
			ImageBase64: image,
			TopK:        s.opts.SimilarTopK,
			MinScore:    s.opts.SimilarMin,
		})
		calls = append(calls[:i:i], append([]ToolCall{pre}, calls[i:]...)...)
	}
	return calls
}

// runToolCalls executes the planned calls in order and merges each result
// into the state. A failed call is logged and skipped; the stage machine
// simply does not see its side effects.
func (s *Service) runToolCalls(ctx context.Context, st *State, calls []ToolCall) []string {
	var used []string
	for _, call := range calls {
		call = s.rebuildArgs(st, call)

		callCtx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
		result := s.tools.Invoke(callCtx, call)
		cancel()
		if !result.Success {
			slog.Warn("tool call failed", "session_id", st.SessionID, "tool", call.Name, "error", result.Err)
			continue
		}
		used = append(used, call.Name)
		s.merge(st, call.Name, result)
	}
	return used
}

// rebuildArgs replaces provider-supplied arguments with state-derived ones
// for the calls where the provider cannot be trusted to echo large payloads
// (the image) or full context correctly.
func (s *Service) rebuildArgs(st *State, call ToolCall) ToolCall {
	switch call.Name {
	case toolAnalyzeImage:
		if st.PendingImage != "" {
			call.Args = mustMarshal(analyzeArgs{
				ImageBase64:     st.PendingImage,
				ClinicalContext: s.clinicalContext(st),
				Language:        st.Language,
			})
		}
	case toolFindSimilar:
		var a similarArgs
		_ = json.Unmarshal(call.Args, &a)
		if st.PendingImage != "" {
			a.ImageBase64 = st.PendingImage
		}
		a.TopK = s.opts.SimilarTopK
		a.MinScore = s.opts.SimilarMin
		call.Args = mustMarshal(a)
	case toolFinalize:
		call.Args = mustMarshal(finalizeArgs{
			Symptoms:     st.ExtractedSymptoms,
			Analysis:     st.Analysis,
			SimilarCases: st.SimilarCases,
			Language:     st.Language,
		})
	}
	return call
}

// clinicalContext builds the context string given to the image analysis:
// the extracted symptoms plus, when the case search already ran this turn,
// one line per similar case.
func (s *Service) clinicalContext(st *State) string {
	var parts []string
	if len(st.ExtractedSymptoms) > 0 {
		parts = append(parts, "Patient-reported symptoms: "+strings.Join(st.ExtractedSymptoms, ", "))
	}
	for _, c := range st.SimilarCases {
		parts = append(parts, fmt.Sprintf("Similar known case: %s (%.0f%%)", c.Condition, c.SimilarityScore*100))
	}
	return strings.Join(parts, "\n")
}

// merge applies one successful tool result to the state. Payloads are typed
// per tool; anything unexpected is ignored.
func (s *Service) merge(st *State, tool string, result ToolResult) {
	switch tool {
	case toolExtractSymptoms:
		symptoms, ok := result.Data.([]Symptom)
		if !ok {
			return
		}
		for _, sym := range symptoms {
			if !contains(st.ExtractedSymptoms, sym.Name) {
				st.ExtractedSymptoms = append(st.ExtractedSymptoms, sym.Name)
			}
		}

	case toolFindSimilar:
		cases, ok := result.Data.([]SimilarCase)
		if !ok {
			return
		}
		st.SimilarCases = cases

	case toolAnalyzeImage:
		analysis, ok := result.Data.(*Analysis)
		if !ok || analysis == nil {
			return
		}
		// The gate's critical-condition list overrides whatever urgency the
		// vision model reported.
		var conditions []string
		for _, p := range analysis.Predictions {
			conditions = append(conditions, p.Condition)
		}
		if critical, which := s.gate.CheckConditions(conditions); critical {
			analysis.RequiresUrgentAttention = true
			for _, name := range which {
				if !contains(analysis.CriticalFindings, name) {
					analysis.CriticalFindings = append(analysis.CriticalFindings, name)
				}
			}
			for i := range analysis.Predictions {
				if contains(which, analysis.Predictions[i].Condition) {
					analysis.Predictions[i].IsCritical = true
				}
			}
		}
		st.Analysis = analysis
		st.ImageCaptured = true
		st.PendingImage = ""

	case toolFinalize:
		plan, ok := result.Data.(*Plan)
		if !ok || plan == nil {
			return
		}
		st.Plan = plan
		st.PlanGenerated = true
	}
}

// describeFindings makes a follow-up completion, without tools, so the
// reply reflects the image analysis that just finished.
func (s *Service) describeFindings(ctx context.Context, st *State) string {
	summary, err := json.Marshal(st.Analysis)
	if err != nil {
		return ""
	}
	prompt := "The image analysis just completed with these findings:\n" + string(summary) +
		"\nExplain them to the patient in plain, reassuring language. Possibilities only, no diagnosis."

	messages := append(st.RecentHistory(s.opts.HistoryWindow), Message{
		Role: "user", Content: prompt, Timestamp: time.Now(),
	})
	completion, err := s.complete(ctx, CompletionRequest{
		System:   baseSystemPrompt,
		Messages: messages,
	})
	if err != nil {
		slog.Warn("follow-up completion failed", "session_id", st.SessionID, "error", err)
		return ""
	}
	return strings.TrimSpace(completion.Text)
}

// Arg shapes for orchestrator-built calls. They mirror the tools' own arg
// structs field for field; duplicating them here keeps the import direction
// pointing at this package.
type extractArgs struct {
	PatientMessage string `json:"patient_message"`
	Language       string `json:"language,omitempty"`
}

type analyzeArgs struct {
	ImageBase64     string `json:"image_base64"`
	ClinicalContext string `json:"clinical_context,omitempty"`
	Language        string `json:"language,omitempty"`
}

type similarArgs struct {
	ImageBase64 string  `json:"image_base64"`
	TopK        int     `json:"top_k,omitempty"`
	MinScore    float64 `json:"min_score,omitempty"`
}

type finalizeArgs struct {
	Symptoms     []string      `json:"symptoms"`
	Analysis     *Analysis     `json:"analysis,omitempty"`
	SimilarCases []SimilarCase `json:"similar_cases,omitempty"`
	Language     string        `json:"language,omitempty"`
}

func (s *Service) forcedCall(name string, args any) ToolCall {
	return ToolCall{Name: name, Args: mustMarshal(args)}
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func callsInclude(calls []ToolCall, name string) bool {
	return callIndex(calls, name) >= 0
}

func callIndex(calls []ToolCall, name string) int {
	for i, c := range calls {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
