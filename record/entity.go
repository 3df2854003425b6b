package record

import (
	"context"
	"encoding/json"
	"sort"
)

// Entity is the in-memory image of one directory record. Native and metadata
// attributes look the same through Get and Set; Save splits them again.
type Entity struct {
	repo *Repository
	st   *bootState

	id              ID
	attrs           *Attributes
	exists          bool
	recentlyCreated bool
}

func (e *Entity) Type() *Type { return e.st.typ }
func (e *Entity) ID() ID      { return e.id }

// Exists reports whether the entity is backed by a stored record.
func (e *Entity) Exists() bool { return e.exists }

// WasRecentlyCreated is true after a successful insert until the next Refresh.
func (e *Entity) WasRecentlyCreated() bool { return e.recentlyCreated }

// Get returns the current value, the type default when unset, or nil.
func (e *Entity) Get(name string) any {
	if v, ok := e.attrs.Get(name); ok {
		return v
	}
	return e.st.typ.Defaults[name]
}

// GetString is Get for string attributes; other types yield "".
func (e *Entity) GetString(name string) string {
	s, _ := e.Get(name).(string)
	return s
}

// Set stores a value without consulting the fillable list.
func (e *Entity) Set(name string, value any) {
	e.attrs.Set(name, value)
}

// Fill mass-assigns attrs. Every key is checked before any is set, so a
// rejected fill leaves the entity untouched.
func (e *Entity) Fill(attrs map[string]any) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := e.st.fillable[k]; !ok {
			return &MassAssignmentError{Type: e.st.typ.Name, Key: k}
		}
	}
	for _, k := range keys {
		e.attrs.Set(k, attrs[k])
	}
	return nil
}

func (e *Entity) IsDirty(names ...string) bool { return e.attrs.IsDirty(names...) }
func (e *Entity) Dirty() map[string]any         { return e.attrs.Dirty() }
func (e *Entity) GetOriginal(name string) any   { return e.attrs.GetOriginal(name) }

// ToMap flattens the visible attributes for serialization.
func (e *Entity) ToMap() map[string]any {
	out := e.attrs.ToMap()
	for h := range e.st.hidden {
		delete(out, h)
	}
	return out
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToMap())
}

// Refresh re-reads the record and discards local changes.
func (e *Entity) Refresh(ctx context.Context) error {
	if !e.exists {
		return &NotFoundError{Type: e.st.typ.Name}
	}
	if err := e.hydrate(ctx, e.id); err != nil {
		return err
	}
	e.recentlyCreated = false
	return nil
}

func (e *Entity) hydrate(ctx context.Context, id ID) error {
	values, order, err := e.repo.load(ctx, id)
	if err != nil {
		return err
	}
	e.attrs.reset()
	for _, k := range order {
		e.attrs.Set(k, values[k])
	}
	e.attrs.SyncOriginal()
	e.id = id
	e.exists = true
	return nil
}
