package node

import (
	"sync"

	"github.com/nerrad567/gray-logic-node/internal/event"
)

// TriggerSpec is the serialised form of an input-to-event binding.
type TriggerSpec struct {
	EventID      string `json:"eventId"`
	TriggerValue *int   `json:"triggerValue,omitempty"`
}

type boundTrigger struct {
	spec  TriggerSpec
	ref   Ref[*ProgrammedEvent]
	token *event.Token
}

// InputBase implements the value and event plumbing shared by inputs.
// Concrete inputs embed it and call Update from their transport callback.
type InputBase struct {
	*Base

	mu       sync.RWMutex
	value    int
	triggers []boundTrigger

	changes *event.Binding[int]
}

// NewInputBase creates the shared input state for h.
func NewInputBase(h Header) *InputBase {
	return &InputBase{
		Base:    NewBase(h),
		changes: event.NewBinding[int]("input:" + h.ID),
	}
}

// SetLogger sets the logger for subscriber failures.
func (b *InputBase) SetLogger(logger event.Logger) {
	b.changes.SetLogger(logger)
}

// Value returns the last observed value.
func (b *InputBase) Value() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

// Init sets the starting value without notifying subscribers.
func (b *InputBase) Init(v int) {
	b.mu.Lock()
	b.value = v
	b.mu.Unlock()
}

// Update records a new value. Subscribers and bound events run on the
// caller's goroutine, in registration order, only if the value changed.
func (b *InputBase) Update(v int) bool {
	if b.Closed() {
		return false
	}

	b.mu.Lock()
	if b.value == v {
		b.mu.Unlock()
		return false
	}
	b.value = v
	b.mu.Unlock()

	b.changes.Publish(v)
	return true
}

// OnChange subscribes to value changes.
func (b *InputBase) OnChange(fn event.Handler[int]) *event.Token {
	return b.changes.Subscribe(fn)
}

// BindEvent triggers the referenced event on matching value changes.
// The input holds only a weak reference, so removing the event from the
// graph silently disables the binding.
func (b *InputBase) BindEvent(ref Ref[*ProgrammedEvent], trigger *int) {
	var want *int
	if trigger != nil {
		v := *trigger
		want = &v
	}

	token := b.changes.Subscribe(func(v int) error {
		ev, ok := ref.Get()
		if !ok {
			return nil
		}
		if want != nil && *want != v {
			return nil
		}
		ev.Trigger()
		return nil
	})

	bt := boundTrigger{
		spec:  TriggerSpec{EventID: ref.ID(), TriggerValue: want},
		ref:   ref,
		token: token,
	}

	b.mu.Lock()
	var replaced *event.Token
	kept := b.triggers[:0]
	for _, t := range b.triggers {
		if t.spec.EventID == bt.spec.EventID {
			replaced = t.token
			continue
		}
		kept = append(kept, t)
	}
	b.triggers = append(kept, bt)
	b.mu.Unlock()

	replaced.Cancel()
}

// Triggers returns the live event bindings, dropping expired ones.
func (b *InputBase) Triggers() []TriggerSpec {
	b.mu.Lock()
	defer b.mu.Unlock()

	specs := make([]TriggerSpec, 0, len(b.triggers))
	kept := b.triggers[:0]
	for _, t := range b.triggers {
		if t.ref.Expired() {
			t.token.Cancel()
			continue
		}
		kept = append(kept, t)
		specs = append(specs, t.spec)
	}
	b.triggers = kept
	return specs
}

// Close drops every subscriber and event binding.
func (b *InputBase) Close() error {
	if !b.MarkClosed() {
		return nil
	}
	b.mu.Lock()
	b.triggers = nil
	b.mu.Unlock()
	b.changes.Close()
	return nil
}

// OutputBase implements the value state shared by outputs.
//
// Concrete outputs write their transport first and call Store only once the
// write succeeded, so Value always reflects what was sent.
type OutputBase struct {
	*Base

	mu       sync.RWMutex
	value    int
	min, max int

	changes *event.Binding[int]
}

// NewOutputBase creates the shared output state for h with an inclusive
// value range.
func NewOutputBase(h Header, min, max int) *OutputBase {
	if max < min {
		min, max = max, min
	}
	return &OutputBase{
		Base:    NewBase(h),
		value:   min,
		min:     min,
		max:     max,
		changes: event.NewBinding[int]("output:" + h.ID),
	}
}

// SetLogger sets the logger for subscriber failures.
func (o *OutputBase) SetLogger(logger event.Logger) {
	o.changes.SetLogger(logger)
}

// Value returns the last value written.
func (o *OutputBase) Value() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.value
}

// Range returns the inclusive value range.
func (o *OutputBase) Range() (min, max int) {
	return o.min, o.max
}

// Clamp limits v to the output range.
func (o *OutputBase) Clamp(v int) int {
	return max(o.min, min(v, o.max))
}

// Target returns the value that realises s: On is the range maximum, Off
// the minimum, and Toggle flips between them based on the current value.
func (o *OutputBase) Target(s State) int {
	switch s {
	case On:
		return o.max
	case Toggle:
		if o.Value() > o.min {
			return o.min
		}
		return o.max
	default:
		return o.min
	}
}

// Store records v and notifies subscribers if it changed.
func (o *OutputBase) Store(v int) {
	o.mu.Lock()
	changed := o.value != v
	o.value = v
	o.mu.Unlock()

	if changed {
		o.changes.Publish(v)
	}
}

// OnChange subscribes to value changes.
func (o *OutputBase) OnChange(fn event.Handler[int]) *event.Token {
	return o.changes.Subscribe(fn)
}

// Close drops every subscriber.
func (o *OutputBase) Close() error {
	if !o.MarkClosed() {
		return nil
	}
	o.changes.Close()
	return nil
}
