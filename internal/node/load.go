package node

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Document is the node configuration document.
//
// Sections are applied strictly in field order: comms, outputs,
// programmedEvents, inputs. A later section may reference ids from an
// earlier one but never the reverse.
type Document struct {
	ID               string            `json:"id,omitempty"`
	Name             string            `json:"name,omitempty"`
	Comms            []json.RawMessage `json:"comms,omitempty"`
	Outputs          []json.RawMessage `json:"outputs,omitempty"`
	ProgrammedEvents []json.RawMessage `json:"programmedEvents,omitempty"`
	Inputs           []json.RawMessage `json:"inputs,omitempty"`
}

// Load builds a new graph from a node document. On failure every module
// built so far is closed and released.
func Load(data []byte, opts ...Option) (*Graph, error) {
	g := New("", opts...)
	if err := g.Apply(data); err != nil {
		if cerr := g.Close(); cerr != nil {
			g.logger.Warn("closing partially loaded graph failed", "error", cerr)
		}
		return nil, err
	}
	return g, nil
}

// LoadFile reads and loads a node document from path.
func LoadFile(path string, opts ...Option) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading node document: %w", err)
	}
	return Load(data, opts...)
}

// Apply validates data and builds every entry not already in the graph.
//
// Applying the same document twice is a no-op the second time. The first
// failing entry aborts the pass; entries built before it stay in the graph.
func (g *Graph) Apply(data []byte) error {
	if g.validator != nil {
		if err := g.validator.Validate(SchemaNode, data); err != nil {
			return err
		}
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: decoding node document: %w", ErrConfig, err)
	}

	g.infoMu.Lock()
	if doc.ID != "" {
		g.id = doc.ID
	}
	if doc.Name != "" {
		g.name = doc.Name
	}
	g.infoMu.Unlock()

	for _, raw := range doc.Comms {
		if _, err := g.registries.Comms.Build(raw, g); err != nil {
			return err
		}
	}
	for _, raw := range doc.Outputs {
		if _, err := g.registries.Outputs.Build(raw, g); err != nil {
			return err
		}
	}
	for _, raw := range doc.ProgrammedEvents {
		if _, err := g.BuildEvent(raw); err != nil {
			return err
		}
	}
	for _, raw := range doc.Inputs {
		if _, err := g.registries.Inputs.Build(raw, g); err != nil {
			return err
		}
	}

	comms, outputs, events, inputs := g.Counts()
	g.logger.Info("node document applied",
		"node_id", g.ID(),
		"comms", comms,
		"outputs", outputs,
		"programmed_events", events,
		"inputs", inputs,
	)
	return nil
}

// BuildEvent resolves a programmed-event fragment. Like Registry.Build it
// returns an existing event with the same id unchanged.
func (g *Graph) BuildEvent(raw json.RawMessage) (*ProgrammedEvent, error) {
	var pe programmedEventJSON
	if err := DecodeFragment(raw, &pe); err != nil {
		return nil, fmt.Errorf("decoding programmed event: %w", err)
	}
	if pe.ID == "" {
		return nil, fmt.Errorf("%w: programmed event without id", ErrConfig)
	}
	if existing, ok := g.Event(pe.ID); ok {
		return existing, nil
	}

	ev := NewProgrammedEvent(pe.ID)
	ev.SetName(pe.Name)
	for _, a := range pe.OutputActions {
		ref, ok := g.OutputRef(a.OutputID)
		if !ok {
			return nil, fmt.Errorf("%w: programmed event %q references unknown output %q", ErrConfig, pe.ID, a.OutputID)
		}
		target := ToggleTarget
		if a.OutputValue != nil {
			target = ValueTarget(*a.OutputValue)
		}
		ev.AddAction(ref, target)
	}

	if !g.AddEvent(ev) {
		if existing, ok := g.Event(pe.ID); ok {
			return existing, nil
		}
	}
	g.logger.Info("programmed event loaded", "id", pe.ID, "actions", len(pe.OutputActions))
	return ev, nil
}

// ResolveComm returns the comm named by a fragment's "comm" field, which is
// either an id string or an inline comm definition built on first use.
func (g *Graph) ResolveComm(raw json.RawMessage) (Comm, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: comm reference is required", ErrConfig)
	}

	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("%w: comm reference: %w", ErrConfig, err)
		}
		c, ok := g.Comm(id)
		if !ok {
			return nil, fmt.Errorf("%w: unknown comm %q", ErrConfig, id)
		}
		return c, nil
	}

	return g.registries.Comms.Build(raw, g)
}

// ResolveCommAs resolves a comm reference and checks its concrete type.
func ResolveCommAs[T Comm](g *Graph, raw json.RawMessage) (T, error) {
	var zero T
	c, err := g.ResolveComm(raw)
	if err != nil {
		return zero, err
	}
	typed, ok := c.(T)
	if !ok {
		return zero, fmt.Errorf("%w: comm %q has type %q", ErrConfig, c.ID(), c.Type())
	}
	return typed, nil
}

// Snapshot serialises the graph into a Document, each section in insertion
// order.
func (g *Graph) Snapshot() (Document, error) {
	doc := Document{ID: g.ID(), Name: g.Name()}

	var err error
	if doc.Comms, err = marshalAll(g.Comms()); err != nil {
		return Document{}, err
	}
	if doc.Outputs, err = marshalAll(g.Outputs()); err != nil {
		return Document{}, err
	}
	if doc.ProgrammedEvents, err = marshalAll(g.Events()); err != nil {
		return Document{}, err
	}
	if doc.Inputs, err = marshalAll(g.Inputs()); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// ToJSON returns the graph as a node document suitable for Apply.
func (g *Graph) ToJSON() ([]byte, error) {
	doc, err := g.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func marshalAll[T json.Marshaler](items []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		b, err := item.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("serialising module: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}
