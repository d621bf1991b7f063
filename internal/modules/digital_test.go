package modules

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/node"
)

func TestDigitalInput_FollowsLine(t *testing.T) {
	g, mem, guard := newTestGraph(t)
	mustApply(t, g, `{"inputs": [{"id": "door", "type": "DigitalInput", "pin": 4, "pud": "down"}]}`)

	in, ok := g.Input("door")
	if !ok {
		t.Fatal("Input(door) not found")
	}
	if !guard.InUse(4) {
		t.Error("pin 4 not claimed")
	}
	if in.Value() != 0 {
		t.Errorf("initial Value() = %d, want 0", in.Value())
	}

	var changes atomic.Int32
	tok := in.OnChange(func(int) error { changes.Add(1); return nil })
	defer tok.Cancel()

	mem.Drive(4, true)
	if in.Value() != 1 {
		t.Errorf("Value() after rising edge = %d, want 1", in.Value())
	}
	mem.Drive(4, false)
	if in.Value() != 0 {
		t.Errorf("Value() after falling edge = %d, want 0", in.Value())
	}
	if got := changes.Load(); got != 2 {
		t.Errorf("change notifications = %d, want 2", got)
	}
}

func TestDigitalInput_PullUpStartsHigh(t *testing.T) {
	g, _, _ := newTestGraph(t)
	mustApply(t, g, `{"inputs": [{"id": "door", "type": "DigitalInput", "pin": 4, "pud": "up"}]}`)

	in, _ := g.Input("door")
	if in.Value() != 1 {
		t.Errorf("Value() = %d, want 1 for a pulled-up idle line", in.Value())
	}
}

func TestDigitalInput_EdgeFilter(t *testing.T) {
	tests := []struct {
		mode        string
		wantChanges int32
	}{
		{"both", 2},
		{"rising", 1},
		{"falling", 1},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			g, mem, _ := newTestGraph(t)
			mustApply(t, g, `{"inputs": [{"id": "door", "type": "DigitalInput", "pin": 4, "isr_mode": "`+tt.mode+`"}]}`)

			in, _ := g.Input("door")
			var changes atomic.Int32
			tok := in.OnChange(func(int) error { changes.Add(1); return nil })
			defer tok.Cancel()

			mem.Drive(4, true)
			if in.Value() != 1 {
				t.Errorf("Value() after rising edge = %d, want 1", in.Value())
			}
			mem.Drive(4, false)
			if in.Value() != 0 {
				t.Errorf("Value() after falling edge = %d, want 0", in.Value())
			}
			if got := changes.Load(); got != tt.wantChanges {
				t.Errorf("change notifications = %d, want %d", got, tt.wantChanges)
			}
		})
	}
}

func TestDigitalInput_TriggersOutput(t *testing.T) {
	g, mem, _ := newTestGraph(t)
	mustApply(t, g, `{
	  "outputs": [{"id": "lamp", "type": "DigitalOutput", "pin": 17}],
	  "programmedEvents": [{"id": "lamp-toggle", "outputActions": [{"outputId": "lamp"}]}],
	  "inputs": [{"id": "wall", "type": "DigitalInput", "pin": 4,
	              "triggerEvents": [{"eventId": "lamp-toggle", "triggerValue": 1}]}]
	}`)

	lamp, _ := g.Output("lamp")

	mem.Drive(4, true)
	if lamp.Value() != 1 || !mem.State(17).High {
		t.Errorf("after press lamp = %d (line high %v), want 1 (true)", lamp.Value(), mem.State(17).High)
	}
	mem.Drive(4, false)
	if lamp.Value() != 1 {
		t.Errorf("release changed lamp to %d, want 1", lamp.Value())
	}
	mem.Drive(4, true)
	if lamp.Value() != 0 || mem.State(17).High {
		t.Errorf("after second press lamp = %d (line high %v), want 0 (false)", lamp.Value(), mem.State(17).High)
	}
}

func TestDigitalOutput_SetValueAndState(t *testing.T) {
	g, mem, _ := newTestGraph(t)
	mustApply(t, g, `{"outputs": [{"id": "relay", "type": "DigitalOutput", "pin": 22}]}`)

	out, _ := g.Output("relay")
	st := mem.State(22)
	if !st.Output || st.High {
		t.Fatalf("pin state after build = %+v, want output driven low", st)
	}

	steps := []struct {
		name string
		do   func() error
		want int
	}{
		{"SetValue(5) clamps", func() error { return out.SetValue(5) }, 1},
		{"SetState(Off)", func() error { return out.SetState(node.Off) }, 0},
		{"SetState(Toggle) from off", func() error { return out.SetState(node.Toggle) }, 1},
		{"SetState(Toggle) from on", func() error { return out.SetState(node.Toggle) }, 0},
		{"SetValue(-3) clamps", func() error { return out.SetValue(-3) }, 0},
		{"SetState(On)", func() error { return out.SetState(node.On) }, 1},
	}
	for _, s := range steps {
		if err := s.do(); err != nil {
			t.Fatalf("%s: error = %v", s.name, err)
		}
		if out.Value() != s.want {
			t.Errorf("%s: Value() = %d, want %d", s.name, out.Value(), s.want)
		}
		if high := mem.State(22).High; high != (s.want == 1) {
			t.Errorf("%s: line high = %v, want %v", s.name, high, s.want == 1)
		}
	}
}

func TestDigitalOutput_SetAfterClose(t *testing.T) {
	g, _, guard := newTestGraph(t)
	mustApply(t, g, `{"outputs": [{"id": "relay", "type": "DigitalOutput", "pin": 22}]}`)

	out, _ := g.Output("relay")
	if err := out.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if guard.InUse(22) {
		t.Error("pin 22 still claimed after Close()")
	}
	if err := out.SetValue(1); !errors.Is(err, node.ErrClosed) {
		t.Errorf("SetValue() after Close error = %v, want %v", err, node.ErrClosed)
	}
}

func TestDigital_PinConflict(t *testing.T) {
	g, _, _ := newTestGraph(t)
	mustApply(t, g, `{"outputs": [{"id": "relay", "type": "DigitalOutput", "pin": 22}]}`)

	err := g.Apply([]byte(`{"inputs": [{"id": "door", "type": "DigitalInput", "pin": 22}]}`))
	if !errors.Is(err, node.ErrResourceConflict) {
		t.Errorf("Apply() error = %v, want %v", err, node.ErrResourceConflict)
	}
	if _, ok := g.Input("door"); ok {
		t.Error("conflicting input was added to the graph")
	}
}

func TestDigital_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing pin", `{"inputs": [{"id": "a", "type": "DigitalInput"}]}`},
		{"negative pin", `{"outputs": [{"id": "a", "type": "DigitalOutput", "pin": -1}]}`},
		{"bad pull", `{"inputs": [{"id": "a", "type": "DigitalInput", "pin": 5, "pud": "sideways"}]}`},
		{"bad edge", `{"inputs": [{"id": "a", "type": "DigitalButton", "pin": 5, "isr_mode": "level"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _, guard := newTestGraph(t)
			err := g.Apply([]byte(tt.doc))
			if !errors.Is(err, node.ErrConfig) {
				t.Errorf("Apply() error = %v, want %v", err, node.ErrConfig)
			}
			if guard.InUse(5) {
				t.Error("pin 5 left claimed after a failed build")
			}
		})
	}
}

func TestDigitalInput_CloseReleasesLine(t *testing.T) {
	g, mem, guard := newTestGraph(t)
	mustApply(t, g, `{"inputs": [{"id": "door", "type": "DigitalInput", "pin": 4}]}`)

	if !g.RemoveInput("door") {
		t.Fatal("RemoveInput(door) = false")
	}
	st := mem.State(4)
	if st.Watched {
		t.Error("pin 4 still watched after removal")
	}
	if st.Resets != 1 {
		t.Errorf("pin 4 resets = %d, want 1", st.Resets)
	}
	if guard.InUse(4) {
		t.Error("pin 4 still claimed after removal")
	}
}

func TestDigitalButton_Presses(t *testing.T) {
	g, mem, _ := newTestGraph(t)
	mustApply(t, g, `{"inputs": [{"id": "btn", "type": "DigitalButton", "pin": 6,
	  "doublePressDuration": 300, "longPressDuration": 400}]}`)

	in, _ := g.Input("btn")
	btn, ok := in.(Button)
	if !ok {
		t.Fatalf("DigitalButton does not implement Button")
	}

	var doubles, longs atomic.Int32
	dt := btn.OnDoublePress(func() { doubles.Add(1) })
	defer dt.Cancel()
	lt := btn.OnLongPress(func() { longs.Add(1) })
	defer lt.Cancel()

	mem.Drive(6, true)
	time.Sleep(50 * time.Millisecond)
	mem.Drive(6, false)
	time.Sleep(600 * time.Millisecond)

	if got := doubles.Load(); got != 1 {
		t.Errorf("double presses = %d, want 1", got)
	}
	if got := longs.Load(); got != 0 {
		t.Errorf("long presses = %d, want 0", got)
	}

	mem.Drive(6, true)
	time.Sleep(600 * time.Millisecond)

	if got := longs.Load(); got != 1 {
		t.Errorf("long presses after hold = %d, want 1", got)
	}
	if in.Value() != 1 {
		t.Errorf("Value() = %d, want 1 while held", in.Value())
	}
}

func TestDigital_RoundTrip(t *testing.T) {
	g, _, _ := newTestGraph(t)
	mustApply(t, g, `{
	  "outputs": [{"id": "relay", "type": "DigitalOutput", "name": "Relay", "pin": 22}],
	  "inputs": [{"id": "btn", "type": "DigitalButton", "pin": 6, "pud": "up", "isr_mode": "falling",
	              "doublePressDuration": 250}]
	}`)

	in, _ := g.Input("btn")
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	want := map[string]any{
		"id": "btn", "type": "DigitalButton", "pin": 6.0, "pud": "up", "isr_mode": "falling",
		"doublePressDuration": 250.0,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	if _, ok := got["longPressDuration"]; ok {
		t.Error("longPressDuration emitted for a disabled detector")
	}

	doc, err := g.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	g2, _, _ := newTestGraph(t)
	mustApply(t, g2, string(doc))
	relay, ok := g2.Output("relay")
	if !ok || relay.Name() != "Relay" {
		t.Errorf("round-tripped relay = %v, %v", relay, ok)
	}
}
