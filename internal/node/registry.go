package node

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a module from its JSON fragment. The graph is passed so
// the constructor can claim pins and resolve comm references.
type Constructor[T Module] func(raw json.RawMessage, g *Graph) (T, error)

// Registry maps type tags to constructors for one module family.
//
// Registration normally happens from package init functions; Build is used
// while loading a document and is safe for concurrent use.
type Registry[T Module] struct {
	family string

	mu    sync.RWMutex
	ctors map[string]Constructor[T]

	lookup  func(g *Graph, id string) (T, bool)
	insert  func(g *Graph, m T) bool
	prepare func(raw json.RawMessage, g *Graph, m T) error
}

// Registries bundles the three module families used by a graph.
type Registries struct {
	Comms   *Registry[Comm]
	Outputs *Registry[Output]
	Inputs  *Registry[Input]
}

// NewRegistries returns empty registries for every family.
func NewRegistries() Registries {
	return Registries{
		Comms:   NewRegistry[Comm]("comm", (*Graph).Comm, (*Graph).AddComm),
		Outputs: NewRegistry[Output]("output", (*Graph).Output, (*Graph).AddOutput),
		Inputs: NewRegistry[Input]("input", (*Graph).Input, (*Graph).AddInput).
			withPrepare(bindTriggers),
	}
}

// Default holds the registries that adapter packages register into.
var Default = NewRegistries()

// NewRegistry creates a registry whose Build consults lookup for existing
// ids and stores new modules with insert.
func NewRegistry[T Module](family string, lookup func(*Graph, string) (T, bool), insert func(*Graph, T) bool) *Registry[T] {
	return &Registry[T]{
		family: family,
		ctors:  make(map[string]Constructor[T]),
		lookup: lookup,
		insert: insert,
	}
}

func (r *Registry[T]) withPrepare(fn func(json.RawMessage, *Graph, T) error) *Registry[T] {
	r.prepare = fn
	return r
}

// Family returns the module family name ("comm", "output", "input").
func (r *Registry[T]) Family() string { return r.family }

// Register adds a constructor for typeTag.
//
// Registering a tag twice is a programming error and panics.
func (r *Registry[T]) Register(typeTag string, ctor Constructor[T]) bool {
	if typeTag == "" || ctor == nil {
		panic(fmt.Sprintf("node: invalid %s registration for %q", r.family, typeTag))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ctors[typeTag]; exists {
		panic(fmt.Sprintf("node: duplicate %s type %q", r.family, typeTag))
	}
	r.ctors[typeTag] = ctor
	return true
}

// Types returns the registered type tags, sorted.
func (r *Registry[T]) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.ctors))
	for tag := range r.ctors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Build resolves a fragment to a module owned by g.
//
// If g already holds a module with the fragment's id, that module is
// returned unchanged. Otherwise the constructor for the fragment's type
// runs, the optional name is applied and the module is inserted. Nothing
// is inserted when construction fails.
func (r *Registry[T]) Build(raw json.RawMessage, g *Graph) (T, error) {
	var zero T

	var h Header
	if err := DecodeFragment(raw, &h); err != nil {
		return zero, fmt.Errorf("decoding %s: %w", r.family, err)
	}
	if h.ID == "" {
		return zero, fmt.Errorf("%w: %s without id", ErrConfig, r.family)
	}
	if h.Type == "" {
		return zero, fmt.Errorf("%w: %s %q without type", ErrConfig, r.family, h.ID)
	}

	if existing, ok := r.lookup(g, h.ID); ok {
		g.logger.Debug("module already loaded", "family", r.family, "id", h.ID)
		return existing, nil
	}

	r.mu.RLock()
	ctor, ok := r.ctors[h.Type]
	r.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("%w: unknown %s type %q for %q", ErrConfig, r.family, h.Type, h.ID)
	}

	m, err := ctor(raw, g)
	if err != nil {
		return zero, fmt.Errorf("building %s %q: %w", r.family, h.ID, err)
	}
	if h.Name != "" {
		m.SetName(h.Name)
	}

	if r.prepare != nil {
		if err := r.prepare(raw, g, m); err != nil {
			closeQuietly(g, m)
			return zero, fmt.Errorf("building %s %q: %w", r.family, h.ID, err)
		}
	}

	if !r.insert(g, m) {
		// Lost a race with a concurrent load of the same id.
		closeQuietly(g, m)
		if existing, ok := r.lookup(g, h.ID); ok {
			return existing, nil
		}
		return zero, fmt.Errorf("%w: %s %q vanished during load", ErrNotFound, r.family, h.ID)
	}

	g.logger.Info("module loaded", "family", r.family, "id", h.ID, "type", h.Type)
	return m, nil
}

func closeQuietly(g *Graph, m Module) {
	if err := m.Close(); err != nil {
		g.logger.Warn("closing discarded module failed", "id", m.ID(), "error", err)
	}
}

// triggerFragment is the input fragment section that binds programmed events.
type triggerFragment struct {
	TriggerEvents []TriggerSpec `json:"triggerEvents"`
}

// bindTriggers wires an input's triggerEvents to already-loaded events.
func bindTriggers(raw json.RawMessage, g *Graph, in Input) error {
	var tf triggerFragment
	if err := DecodeFragment(raw, &tf); err != nil {
		return err
	}
	for _, spec := range tf.TriggerEvents {
		ref, ok := g.EventRef(spec.EventID)
		if !ok {
			return fmt.Errorf("%w: input %q triggers unknown event %q", ErrConfig, in.ID(), spec.EventID)
		}
		in.BindEvent(ref, spec.TriggerValue)
	}
	return nil
}
