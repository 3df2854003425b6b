package record

// Attributes holds an entity's current values alongside the snapshot taken at the
// last sync. Keys remember their first insertion order so every walk over the set
// (dirty keys, metadata writes) is deterministic.
//
// The dirty set is derived on every call and never cached.
type Attributes struct {
	keys     []string
	values   map[string]any
	original map[string]any
}

func NewAttributes() *Attributes {
	return &Attributes{
		values:   make(map[string]any),
		original: make(map[string]any),
	}
}

// Get returns the current value and whether the attribute is set at all.
func (a *Attributes) Get(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

func (a *Attributes) Set(name string, value any) {
	if _, ok := a.values[name]; !ok {
		a.keys = append(a.keys, name)
	}
	a.values[name] = value
}

func (a *Attributes) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Keys returns attribute names in insertion order.
func (a *Attributes) Keys() []string {
	return append([]string(nil), a.keys...)
}

// IsDirty reports whether any of the named attributes, or any attribute at all
// when no names are given, differs from the original snapshot.
func (a *Attributes) IsDirty(names ...string) bool {
	if len(names) == 0 {
		names = a.keys
	}
	for _, n := range names {
		if a.dirty(n) {
			return true
		}
	}
	return false
}

func (a *Attributes) dirty(name string) bool {
	v, ok := a.values[name]
	if !ok {
		return false
	}
	orig, had := a.original[name]
	if !had {
		return true
	}
	return !sameValue(v, orig)
}

// DirtyKeys returns the changed attribute names in insertion order.
func (a *Attributes) DirtyKeys() []string {
	var out []string
	for _, k := range a.keys {
		if a.dirty(k) {
			out = append(out, k)
		}
	}
	return out
}

// Dirty maps every changed attribute to its current value.
func (a *Attributes) Dirty() map[string]any {
	out := make(map[string]any)
	for _, k := range a.DirtyKeys() {
		out[k] = a.values[k]
	}
	return out
}

// GetOriginal returns the value as of the last sync, nil when it was not set.
func (a *Attributes) GetOriginal(name string) any {
	return a.original[name]
}

func (a *Attributes) SyncOriginal() {
	a.original = make(map[string]any, len(a.values))
	for k, v := range a.values {
		a.original[k] = v
	}
}

// ToMap returns a shallow copy of the current values.
func (a *Attributes) ToMap() map[string]any {
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// reset drops every value and the snapshot. Callers re-populate and sync.
func (a *Attributes) reset() {
	a.keys = nil
	a.values = make(map[string]any)
	a.original = make(map[string]any)
}
