package types

import "encoding/json"

// OutcomeKind discriminates the result of a worker turn.
type OutcomeKind string

const (
	OutcomeResult    OutcomeKind = "result"
	OutcomeHandoff   OutcomeKind = "handoff"
	OutcomeInterrupt OutcomeKind = "interrupt"
)

// Result is the terminal payload of a completed task.
type Result struct {
	Payload map[string]any `json:"payload,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

// HandoffInstruction transfers control to another worker together with a
// partial context update. Reason is mandatory: it feeds the audit trail and
// the loop guard diagnostics.
type HandoffInstruction struct {
	TargetWorker  string         `json:"target_worker"`
	UpdatedFields map[string]any `json:"updated_fields,omitempty"`
	Reason        string         `json:"reason"`
}

// Validate checks that a HandoffInstruction has all required fields.
func (h *HandoffInstruction) Validate() error {
	if h.TargetWorker == "" {
		return NewError(ErrInvalidHandoff, "target_worker is required")
	}
	if h.Reason == "" {
		return NewError(ErrInvalidHandoff, "handoff reason is required")
	}
	return nil
}

// Question is a single prompt awaiting an external (human) answer.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"` // empty means free-form
}

// AllowsAnswer reports whether the given answer is acceptable for the
// question. Free-form questions accept anything non-empty.
func (q Question) AllowsAnswer(answer string) bool {
	if answer == "" {
		return false
	}
	if len(q.Options) == 0 {
		return true
	}
	for _, opt := range q.Options {
		if opt == answer {
			return true
		}
	}
	return false
}

// InterruptRequest suspends the execution pending external answers.
// ResumeWorker is the worker that re-enters the loop once answers arrive.
type InterruptRequest struct {
	Questions    []Question `json:"questions"`
	ResumeWorker string     `json:"resume_worker"`
}

// Validate checks that an InterruptRequest is well formed.
func (r *InterruptRequest) Validate() error {
	if len(r.Questions) == 0 {
		return NewError(ErrAmbiguousOutcome, "interrupt request has no questions")
	}
	if r.ResumeWorker == "" {
		return NewError(ErrAmbiguousOutcome, "interrupt request has no resume_worker")
	}
	seen := make(map[string]struct{}, len(r.Questions))
	for _, q := range r.Questions {
		if q.ID == "" {
			return NewError(ErrAmbiguousOutcome, "interrupt question has empty id")
		}
		if _, dup := seen[q.ID]; dup {
			return NewErrorf(ErrAmbiguousOutcome, "duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// Outcome is the discriminated union a worker turn must resolve to.
// Exactly one of Result, Handoff, or Interrupt is set, matching Kind.
// The coordinator enforces this at the turn boundary and never reinterprets
// a malformed outcome as a best-effort success.
type Outcome struct {
	Kind      OutcomeKind         `json:"kind"`
	Result    *Result             `json:"result,omitempty"`
	Handoff   *HandoffInstruction `json:"handoff,omitempty"`
	Interrupt *InterruptRequest   `json:"interrupt,omitempty"`
}

// NewResultOutcome creates a terminal outcome.
func NewResultOutcome(payload map[string]any, summary string) *Outcome {
	return &Outcome{Kind: OutcomeResult, Result: &Result{Payload: payload, Summary: summary}}
}

// NewHandoffOutcome creates a handoff outcome.
func NewHandoffOutcome(target, reason string, updated map[string]any) *Outcome {
	return &Outcome{Kind: OutcomeHandoff, Handoff: &HandoffInstruction{
		TargetWorker:  target,
		UpdatedFields: updated,
		Reason:        reason,
	}}
}

// NewInterruptOutcome creates an interrupt outcome.
func NewInterruptOutcome(resumeWorker string, questions ...Question) *Outcome {
	return &Outcome{Kind: OutcomeInterrupt, Interrupt: &InterruptRequest{
		Questions:    questions,
		ResumeWorker: resumeWorker,
	}}
}

// Validate enforces the exactly-one rule. A nil outcome, an unknown kind, a
// kind whose member is missing, or more than one member set all resolve to
// AMBIGUOUS_OUTCOME.
func (o *Outcome) Validate() error {
	if o == nil {
		return NewError(ErrAmbiguousOutcome, "worker turn produced no outcome")
	}
	set := 0
	if o.Result != nil {
		set++
	}
	if o.Handoff != nil {
		set++
	}
	if o.Interrupt != nil {
		set++
	}
	if set != 1 {
		return NewErrorf(ErrAmbiguousOutcome, "outcome must carry exactly one member, got %d", set)
	}
	switch o.Kind {
	case OutcomeResult:
		if o.Result == nil {
			return NewError(ErrAmbiguousOutcome, "kind is result but result member is nil")
		}
	case OutcomeHandoff:
		if o.Handoff == nil {
			return NewError(ErrAmbiguousOutcome, "kind is handoff but handoff member is nil")
		}
		return o.Handoff.Validate()
	case OutcomeInterrupt:
		if o.Interrupt == nil {
			return NewError(ErrAmbiguousOutcome, "kind is interrupt but interrupt member is nil")
		}
		return o.Interrupt.Validate()
	default:
		return NewErrorf(ErrAmbiguousOutcome, "unknown outcome kind %q", o.Kind)
	}
	return nil
}

// MarshalJSON keeps the serialized form in lockstep with the Kind tag.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	type alias Outcome
	return json.Marshal((*alias)(o))
}
