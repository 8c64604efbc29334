// internal/plan/plan.go
// Package plan defines the action plan contract shared by the generator and
// the executor. A Plan is the boundary between possibly-hallucinated LLM
// output and code that drives a live browser session, so Validate is the
// single source of truth consulted on both sides of that boundary.
package plan

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// Kind enumerates the closed set of recognized action kinds.
type Kind string

const (
	KindGoto         Kind = "goto"
	KindFill         Kind = "fill"
	KindClick        Kind = "click"
	KindPress        Kind = "press"
	KindWaitFor      Kind = "wait_for"
	KindExtract      Kind = "extract"
	KindAssertText   Kind = "assert_text"
	KindSelectOption Kind = "select_option"
	KindScroll       Kind = "scroll"
	KindSleep        Kind = "sleep"
)

// knownKinds is consulted by Validate. Unknown kinds fail validation even
// though the executor would skip them; a generated plan must not contain any.
var knownKinds = map[Kind]bool{
	KindGoto:         true,
	KindFill:         true,
	KindClick:        true,
	KindPress:        true,
	KindWaitFor:      true,
	KindExtract:      true,
	KindAssertText:   true,
	KindSelectOption: true,
	KindScroll:       true,
	KindSleep:        true,
}

// Action is one step of a plan. Exactly one addressing mode (Selector, or
// Role+Name) must resolve to a target for every kind except scroll and sleep.
// Unrecognized wire fields are tolerated for forward compatibility; the
// decoder simply drops them.
type Action struct {
	Kind      Kind   `json:"action"`
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	Value     string `json:"value,omitempty"`
	Assert    string `json:"assert,omitempty"`
	TimeoutMs int    `json:"timeout_ms,omitempty"`
}

// HasTarget reports whether the action resolves to a target element via
// either addressing mode.
func (a Action) HasTarget() bool {
	return a.Selector != "" || (a.Role != "" && a.Name != "")
}

// Plan is an ordered sequence of actions. Order is execution order and is
// significant (a fill must precede the press that submits it). A plan is
// immutable once produced; the executor never reorders or mutates it.
type Plan []Action

// SchemaError describes a structural validation failure of a candidate plan.
type SchemaError struct {
	Index  int    // index of the offending action, -1 for plan-level failures
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("plan schema violation: %s", e.Reason)
	}
	return fmt.Sprintf("plan schema violation at action %d: %s", e.Index, e.Reason)
}

// Validate checks a plan against the schema. It returns nil for an empty
// plan; emptiness is a generator concern, not a schema one.
func Validate(p Plan) error {
	for i, a := range p {
		if a.Kind == "" {
			return &SchemaError{Index: i, Reason: "missing action kind"}
		}
		if !knownKinds[a.Kind] {
			return &SchemaError{Index: i, Reason: fmt.Sprintf("unrecognized action kind %q", a.Kind)}
		}
		switch a.Kind {
		case KindScroll, KindSleep:
			// No target required.
		case KindGoto:
			if a.URL == "" {
				return &SchemaError{Index: i, Reason: "goto requires url"}
			}
		default:
			if !a.HasTarget() {
				return &SchemaError{Index: i, Reason: fmt.Sprintf("%s requires a selector or role+name target", a.Kind)}
			}
		}
	}
	return nil
}

// HasExtract reports whether the plan contains at least one extract action.
// The generator rejects plans without one as incomplete even when they are
// schema-valid.
func HasExtract(p Plan) bool {
	for _, a := range p {
		if a.Kind == KindExtract {
			return true
		}
	}
	return false
}

// Meta records the provenance of a generated plan. It is attached to, but
// logically separate from, the plan itself.
type Meta struct {
	Source string `json:"source"` // "generated" or "fallback"
	Model  string `json:"model,omitempty"`
}

const (
	SourceGenerated = "generated"
	SourceFallback  = "fallback"
)

// ExtractionResult holds the text and href captured by an extract action.
type ExtractionResult struct {
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// Marshal serializes a plan to its wire JSON shape.
func Marshal(p Plan) ([]byte, error) {
	return json.Marshal(p)
}

// Unmarshal parses the wire JSON shape into a plan. Unknown fields on each
// action object are ignored; the action kind itself is still validated by
// the caller via Validate.
func Unmarshal(data []byte) (Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan JSON: %w", err)
	}
	return p, nil
}
