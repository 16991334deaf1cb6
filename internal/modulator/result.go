package modulator

// Phase actions.
const (
	ActionExecuted = "executed"
	ActionSkipped  = "skipped"
	ActionError    = "error"
)

// PhaseResult records the outcome of one phase.
type PhaseResult struct {
	Phase   string `json:"phase"`
	Action  string `json:"action"` // executed, skipped, error
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the structured report of one apply or remove invocation.
// Every failure names the phase it happened in; the specific file,
// anchor, or dependency implicated is carried in the phase detail and
// the error list.
type Result struct {
	Operation    string        `json:"operation"`
	CapabilityID string        `json:"capabilityId"`
	Success      bool          `json:"success"`
	Phases       []PhaseResult `json:"phases"`
	Warnings     []string      `json:"warnings,omitempty"`
	Errors       []string      `json:"errors,omitempty"`

	// FailureKind classifies the first phase failure so callers can map
	// it to an exit code without re-parsing error strings.
	FailureKind Kind `json:"-"`
}

func (r *Result) executed(phase, detail string) {
	r.Phases = append(r.Phases, PhaseResult{Phase: phase, Action: ActionExecuted, Success: true, Detail: detail})
}

func (r *Result) skipped(phase, detail string) {
	r.Phases = append(r.Phases, PhaseResult{Phase: phase, Action: ActionSkipped, Success: true, Detail: detail})
}

func (r *Result) failed(phase string, err error) {
	r.Phases = append(r.Phases, PhaseResult{Phase: phase, Action: ActionError, Success: false, Detail: err.Error()})
	r.Errors = append(r.Errors, phase+": "+err.Error())
	if r.Success {
		r.FailureKind = KindOf(err)
	}
	r.Success = false
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
