package workflow

import "fmt"

// Type identifies a workflow definition. The set is closed and compiled in.
type Type string

const (
	TypeInvoiceCreation    Type = "invoice_creation"
	TypeTaxCalculation     Type = "tax_calculation"
	TypeKsefSubmission     Type = "ksef_submission"
	TypeCustomerOnboarding Type = "customer_onboarding"
)

// State is a named state within a definition's state machine.
type State string

// Terminal states shared by every definition. They are absorbing: no
// transition leads out of them.
const (
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ActionCancel is the transition action used by cooperative cancellation.
// Every definition declares it from each state it wants cancellable.
const ActionCancel = "cancel"

// Transition is one legal edge of the state machine.
type Transition struct {
	From   State
	To     State
	Action string
}

// StepSpec is one named step of a definition, anchored to the state it
// executes in.
type StepSpec struct {
	ID        string
	Name      string
	BelongsTo State
}

// Definition is the static description of one workflow type: its states, the
// legal transitions between them and the ordered list of steps.
type Definition struct {
	Type        Type
	Description string
	Initial     State
	States      []State
	Transitions []Transition
	Steps       []StepSpec
}

func (d *Definition) HasState(s State) bool {
	for _, st := range d.States {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition reports whether (from, to) is a declared edge.
func (d *Definition) CanTransition(from, to State) bool {
	for _, t := range d.Transitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Step returns the spec for the given step id, or nil when the definition
// does not declare it.
func (d *Definition) Step(id string) *StepSpec {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// IsTerminal reports whether the state is absorbing for this definition: no
// declared transition leads out of it.
func (d *Definition) IsTerminal(s State) bool {
	for _, t := range d.Transitions {
		if t.From == s {
			return false
		}
	}
	return true
}

// validate checks the structural invariants of a definition. Called once at
// registry construction; a violation is a programming error.
func (d *Definition) validate() error {
	if !d.HasState(d.Initial) {
		return fmt.Errorf("definition %s: initial state %q not declared", d.Type, d.Initial)
	}
	for _, t := range d.Transitions {
		if !d.HasState(t.From) || !d.HasState(t.To) {
			return fmt.Errorf("definition %s: transition %s -> %s references undeclared state", d.Type, t.From, t.To)
		}
	}
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return fmt.Errorf("definition %s: step with empty id", d.Type)
		}
		if seen[s.ID] {
			return fmt.Errorf("definition %s: duplicate step id %q", d.Type, s.ID)
		}
		seen[s.ID] = true
		if !d.HasState(s.BelongsTo) {
			return fmt.Errorf("definition %s: step %q belongs to undeclared state %q", d.Type, s.ID, s.BelongsTo)
		}
	}
	return nil
}

// Registry is the immutable lookup table of workflow definitions, built once
// at process start and injected into the engine.
type Registry struct {
	definitions map[Type]*Definition
}

// NewRegistry builds the registry from the compiled-in definitions. It panics
// on a malformed definition since that is unrecoverable configuration.
func NewRegistry() *Registry {
	r := &Registry{definitions: make(map[Type]*Definition)}
	for _, def := range allDefinitions() {
		if err := def.validate(); err != nil {
			panic(err)
		}
		r.definitions[def.Type] = def
	}
	return r
}

// Get returns the definition for the given type.
func (r *Registry) Get(t Type) (*Definition, bool) {
	def, ok := r.definitions[t]
	return def, ok
}

// Types returns all registered workflow types.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.definitions))
	for t := range r.definitions {
		types = append(types, t)
	}
	return types
}
