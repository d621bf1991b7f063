package node

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-node/internal/event"
)

// Target is the value an action applies to its output.
type Target struct {
	Value  int
	Toggle bool
}

// ValueTarget returns a target that sets v.
func ValueTarget(v int) Target { return Target{Value: v} }

// ToggleTarget is the target that flips the output state.
var ToggleTarget = Target{Toggle: true}

// ActionSpec is the serialised form of one programmed-event action.
// A missing OutputValue means toggle.
type ActionSpec struct {
	OutputID    string `json:"outputId"`
	OutputValue *int   `json:"outputValue,omitempty"`
}

type action struct {
	output Ref[Output]
	target Target
}

// ProgrammedEvent is a named set of output actions fired together.
//
// It references outputs weakly. Actions whose output has left the graph
// are pruned lazily the next time the action list is walked.
type ProgrammedEvent struct {
	id string

	nameMu sync.RWMutex
	name   string

	mu      sync.Mutex
	actions []action

	fired  atomic.Uint64
	fires  *event.Binding[int]
	logger Logger
}

// NewProgrammedEvent creates an event with no actions.
func NewProgrammedEvent(id string) *ProgrammedEvent {
	return &ProgrammedEvent{
		id:     id,
		fires:  event.NewBinding[int]("event:" + id),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used for action failures.
func (e *ProgrammedEvent) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
	e.fires.SetLogger(logger)
}

// ID returns the event identifier.
func (e *ProgrammedEvent) ID() string { return e.id }

// Name returns the human-readable name.
func (e *ProgrammedEvent) Name() string {
	e.nameMu.RLock()
	defer e.nameMu.RUnlock()
	return e.name
}

// SetName replaces the human-readable name.
func (e *ProgrammedEvent) SetName(name string) {
	e.nameMu.Lock()
	e.name = name
	e.nameMu.Unlock()
}

// AddAction sets the target for an output, replacing any earlier action
// for the same output id.
func (e *ProgrammedEvent) AddAction(output Ref[Output], target Target) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.pruneLocked()
	for i := range kept {
		if kept[i].output.ID() == output.ID() {
			kept[i] = action{output: output, target: target}
			e.actions = kept
			return
		}
	}
	e.actions = append(kept, action{output: output, target: target})
}

// RemoveAction drops the action for outputID. It reports whether one existed.
func (e *ProgrammedEvent) RemoveAction(outputID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, a := range e.actions {
		if a.output.ID() == outputID {
			e.actions = append(e.actions[:i], e.actions[i+1:]...)
			return true
		}
	}
	return false
}

// pruneLocked drops actions whose output has expired.
func (e *ProgrammedEvent) pruneLocked() []action {
	kept := e.actions[:0]
	for _, a := range e.actions {
		if !a.output.Expired() {
			kept = append(kept, a)
		}
	}
	clear(e.actions[len(kept):])
	return kept
}

// Actions returns the live actions.
func (e *ProgrammedEvent) Actions() []ActionSpec {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.actions = e.pruneLocked()
	specs := make([]ActionSpec, 0, len(e.actions))
	for _, a := range e.actions {
		spec := ActionSpec{OutputID: a.output.ID()}
		if !a.target.Toggle {
			v := a.target.Value
			spec.OutputValue = &v
		}
		specs = append(specs, spec)
	}
	return specs
}

// Trigger applies every live action. Failures are logged and do not stop
// the remaining actions.
func (e *ProgrammedEvent) Trigger() {
	type pending struct {
		out    Output
		target Target
	}

	e.mu.Lock()
	e.actions = e.pruneLocked()
	run := make([]pending, 0, len(e.actions))
	for _, a := range e.actions {
		if out, ok := a.output.Get(); ok {
			run = append(run, pending{out: out, target: a.target})
		}
	}
	logger := e.logger
	e.mu.Unlock()

	e.fired.Add(1)
	failed := 0
	for _, p := range run {
		var err error
		if p.target.Toggle {
			err = p.out.SetState(Toggle)
		} else {
			err = p.out.SetValue(p.target.Value)
		}
		if err != nil {
			failed++
			logger.Warn("programmed event action failed",
				"event_id", e.id,
				"output_id", p.out.ID(),
				"error", err,
			)
		}
	}

	logger.Debug("programmed event triggered",
		"event_id", e.id,
		"actions", len(run),
		"failed", failed,
	)
	e.fires.Publish(len(run) - failed)
}

// OnTrigger registers fn to run after each Trigger with the number of
// actions applied.
func (e *ProgrammedEvent) OnTrigger(fn event.Handler[int]) *event.Token {
	return e.fires.Subscribe(fn)
}

// Fired returns how many times Trigger has run.
func (e *ProgrammedEvent) Fired() uint64 {
	return e.fired.Load()
}

// Close drops every action.
func (e *ProgrammedEvent) Close() error {
	e.mu.Lock()
	e.actions = nil
	e.mu.Unlock()
	e.fires.Close()
	return nil
}

// programmedEventJSON is the document form of a programmed event.
type programmedEventJSON struct {
	ID            string       `json:"id"`
	Name          string       `json:"name,omitempty"`
	OutputActions []ActionSpec `json:"outputActions"`
}

// MarshalJSON implements json.Marshaler.
func (e *ProgrammedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(programmedEventJSON{
		ID:            e.id,
		Name:          e.Name(),
		OutputActions: e.Actions(),
	})
}
