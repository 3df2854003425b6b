package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Type describes an entity type and how its attributes map onto the directory.
//
// Type names identify boot state for the whole process, so two Type values must
// not share a name.
type Type struct {
	Name string
	// IdentityField carries the store identity among the native fields.
	IdentityField string
	// NaturalKey is a unique, human meaningful native field. Renames are conflict checked.
	NaturalKey string
	// NativeFields are written through the store's record primitives.
	NativeFields []string
	// SecondaryFields are native fields the primary update ignores; they go
	// through Store.UpdateNativeExtra.
	SecondaryFields []string
	// SystemFields are managed by capabilities, never by callers.
	SystemFields []string
	// Fillable lists the attributes Fill may set. Must not overlap native or system fields.
	Fillable []string
	// Hidden attributes are left out of ToMap and JSON.
	Hidden []string
	// Defaults are returned by Get for attributes that are not set.
	Defaults     map[string]any
	Capabilities []Capability
}

// Capability is a cross-cutting behaviour composed onto a type. It may also
// implement TypeInitializer and InstanceInitializer.
type Capability interface {
	Name() string
}

// TypeInitializer runs once per type, in capability registration order.
type TypeInitializer interface {
	OnTypeInit(b *Booter) error
}

// InstanceInitializer runs on every new instance, before its snapshot is synced.
type InstanceInitializer interface {
	OnInstanceInit(e *Entity)
}

// Booter is handed to TypeInitializer hooks.
type Booter struct {
	st  *bootState
	ctx context.Context
}

func (b *Booter) Type() *Type { return b.st.typ }

// Context is the boot context, marked as booting this type. Hooks that
// construct instances of their own type must pass it; any other context waits
// for the boot to finish.
func (b *Booter) Context() context.Context { return b.ctx }

type bootingKey struct{ name string }

func bootingFrom(ctx context.Context, name string) bool {
	return ctx.Value(bootingKey{name}) != nil
}

// Listen registers a type-level lifecycle listener. Type-level listeners run
// before the repository's dispatcher.
func (b *Booter) Listen(name EventName, l Listener) {
	b.st.hooks.Listen(b.st.typ.Name, name, l)
}

type bootState struct {
	typ          *Type
	hooks        *Bus
	initializers []InstanceInitializer

	native    map[string]struct{}
	secondary map[string]struct{}
	fillable  map[string]struct{}
	hidden    map[string]struct{}

	// ready is closed once the hooks have finished, successfully or not.
	ready chan struct{}

	mu  sync.Mutex
	err error
}

func (s *bootState) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *bootState) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *bootState) isNative(name string) bool {
	_, ok := s.native[name]
	return ok
}

func (s *bootState) isSecondary(name string) bool {
	_, ok := s.secondary[name]
	return ok
}

// registry is populated on first construction of each type and never cleared.
var registry = struct {
	mu    sync.Mutex
	types map[string]*bootState
}{types: make(map[string]*bootState)}

// boot runs the type initializer once per type name. Only the check-and-set is
// locked; hooks run unlocked. Other callers wait until the hooks are done, except
// a hook constructing its own type through Booter.Context, which carries on
// without waiting or re-running hooks.
func boot(ctx context.Context, t *Type, events Dispatcher, logger Logger) (*bootState, error) {
	if t == nil {
		return nil, &ConfigurationError{Reason: "nil type"}
	}
	registry.mu.Lock()
	if st, ok := registry.types[t.Name]; ok {
		registry.mu.Unlock()
		if !bootingFrom(ctx, t.Name) {
			select {
			case <-st.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return st, st.failure()
	}
	st := newBootState(t)
	registry.types[t.Name] = st
	registry.mu.Unlock()
	defer close(st.ready)

	if err := st.failure(); err != nil {
		logger.Error("record type misconfigured", "type", t.Name, "error", err)
		return st, err
	}

	b := &Booter{st: st, ctx: context.WithValue(ctx, bootingKey{t.Name}, struct{}{})}
	if v := events.Fire(b.ctx, Event{Name: EventBooting, Type: t.Name}); v.Failed() {
		logger.Warn("booting listener failed", "type", t.Name, "error", v.Err())
	}
	for _, c := range t.Capabilities {
		ti, ok := c.(TypeInitializer)
		if !ok {
			continue
		}
		if err := ti.OnTypeInit(b); err != nil {
			err = &ConfigurationError{Type: t.Name, Reason: fmt.Sprintf("capability %s: %v", c.Name(), err)}
			st.fail(err)
			logger.Error("record type boot failed", "type", t.Name, "capability", c.Name(), "error", err)
			return st, err
		}
	}
	if v := events.Fire(b.ctx, Event{Name: EventBooted, Type: t.Name}); v.Failed() {
		logger.Warn("booted listener failed", "type", t.Name, "error", v.Err())
	}
	logger.Debug("record type booted", "type", t.Name, "capabilities", len(t.Capabilities))
	return st, nil
}

func newBootState(t *Type) *bootState {
	st := &bootState{
		typ:       t,
		hooks:     NewBus(),
		native:    toSet(t.NativeFields),
		secondary: toSet(t.SecondaryFields),
		fillable:  toSet(t.Fillable),
		hidden:    toSet(t.Hidden),
		ready:     make(chan struct{}),
	}
	for _, c := range t.Capabilities {
		if ii, ok := c.(InstanceInitializer); ok {
			st.initializers = append(st.initializers, ii)
		}
	}
	if err := validateType(t); err != nil {
		st.err = err
	}
	return st
}

func validateType(t *Type) error {
	cfgErr := func(reason string, fields ...string) error {
		return &ConfigurationError{Type: t.Name, Fields: fields, Reason: reason}
	}
	if t.Name == "" {
		return cfgErr("name is required")
	}
	if t.IdentityField == "" {
		return cfgErr("identity field is required")
	}
	if t.NaturalKey == "" {
		return cfgErr("natural key is required")
	}
	native := toSet(t.NativeFields)
	if len(native) != len(t.NativeFields) {
		return cfgErr("duplicate native fields", duplicates(t.NativeFields)...)
	}
	if _, ok := native[t.IdentityField]; !ok {
		return cfgErr("identity field must be native", t.IdentityField)
	}
	if _, ok := native[t.NaturalKey]; !ok {
		return cfgErr("natural key must be native", t.NaturalKey)
	}
	var notNative []string
	for _, f := range t.SecondaryFields {
		if _, ok := native[f]; !ok {
			notNative = append(notNative, f)
		}
	}
	if len(notNative) > 0 {
		return cfgErr("secondary fields must be native", notNative...)
	}
	guarded := toSet(t.NativeFields, t.SystemFields, []string{t.IdentityField})
	var overlap []string
	for _, f := range t.Fillable {
		if _, ok := guarded[f]; ok {
			overlap = append(overlap, f)
		}
	}
	if len(overlap) > 0 {
		sort.Strings(overlap)
		return cfgErr("remove native and system fields from fillable", overlap...)
	}
	return nil
}

func duplicates(names []string) []string {
	seen := make(map[string]int)
	var out []string
	for _, n := range names {
		seen[n]++
		if seen[n] == 2 {
			out = append(out, n)
		}
	}
	return out
}
