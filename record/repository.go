package record

import (
	"context"
	"errors"
	"sort"
)

// Repository binds a Type to the directory channels it persists through.
// It is safe for concurrent use; the entities it hands out are not.
type Repository struct {
	typ     *Type
	store   Store
	meta    Meta
	events  Dispatcher
	logger  Logger
	metrics MetricsRecorder
}

type Option func(*Repository)

// WithDispatcher sets the bus lifecycle events are fired on after the type's own hooks.
func WithDispatcher(d Dispatcher) Option {
	return func(r *Repository) {
		if d != nil {
			r.events = d
		}
	}
}

func WithLogger(l Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m MetricsRecorder) Option {
	return func(r *Repository) {
		if m != nil {
			r.metrics = m
		}
	}
}

func NewRepository(t *Type, store Store, meta Meta, opts ...Option) *Repository {
	r := &Repository{
		typ:     t,
		store:   store,
		meta:    meta,
		events:  nopDispatcher{},
		logger:  noopLogger{},
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Type() *Type { return r.typ }

// Boot runs the type initializer if no instance of the type was constructed yet.
func (r *Repository) Boot(ctx context.Context) error {
	_, err := boot(ctx, r.typ, r.events, r.logger)
	return err
}

// New constructs an unsaved entity. Instance initializers seed it, the result
// is taken as the clean snapshot, and attrs is then mass-assigned.
func (r *Repository) New(ctx context.Context, attrs map[string]any) (*Entity, error) {
	st, err := boot(ctx, r.typ, r.events, r.logger)
	if err != nil {
		return nil, err
	}
	e := &Entity{repo: r, st: st, attrs: NewAttributes()}
	for _, ii := range st.initializers {
		ii.OnInstanceInit(e)
	}
	e.attrs.SyncOriginal()
	if len(attrs) > 0 {
		if err := e.Fill(attrs); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Create is New followed by Save. The entity is returned even when a listener
// vetoed the save.
func (r *Repository) Create(ctx context.Context, attrs map[string]any) (*Entity, bool, error) {
	e, err := r.New(ctx, attrs)
	if err != nil {
		return nil, false, err
	}
	saved, err := e.Save(ctx)
	return e, saved, err
}

// Find hydrates the entity with the given identity.
func (r *Repository) Find(ctx context.Context, id ID) (*Entity, error) {
	st, err := boot(ctx, r.typ, r.events, r.logger)
	if err != nil {
		return nil, err
	}
	e := &Entity{repo: r, st: st, attrs: NewAttributes()}
	if err := e.hydrate(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}

// FindByNaturalKey hydrates the entity owning the natural key value.
func (r *Repository) FindByNaturalKey(ctx context.Context, value any) (*Entity, error) {
	id, found, err := r.store.FindByNaturalKey(ctx, value)
	if err != nil {
		return nil, &PersistenceError{Type: r.typ.Name, Op: "find", Channel: ChannelNative, Err: err}
	}
	if !found {
		return nil, &NotFoundError{Type: r.typ.Name}
	}
	return r.Find(ctx, id)
}

// load fetches native fields, then merges in every metadata key the native
// snapshot does not already carry. Native fields come first, in type order.
func (r *Repository) load(ctx context.Context, id ID) (map[string]any, []string, error) {
	native, err := r.store.FetchByIdentity(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil, &NotFoundError{Type: r.typ.Name, ID: id}
	}
	if err != nil {
		return nil, nil, &PersistenceError{Type: r.typ.Name, Op: "fetch", Channel: ChannelNative, ID: id, Err: err}
	}
	meta, err := r.meta.Get(ctx, id)
	if err != nil {
		return nil, nil, &PersistenceError{Type: r.typ.Name, Op: "fetch", Channel: ChannelMeta, ID: id, Err: err}
	}

	values := make(map[string]any, len(native)+len(meta))
	var order []string
	add := func(k string, v any) {
		if _, ok := values[k]; ok {
			return
		}
		values[k] = v
		order = append(order, k)
	}
	for _, f := range r.typ.NativeFields {
		if v, ok := native[f]; ok {
			add(f, v)
		}
	}
	var rest []string
	for k := range native {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		add(k, native[k])
	}
	metaKeys := make([]string, 0, len(meta))
	for k := range meta {
		metaKeys = append(metaKeys, k)
	}
	sort.Strings(metaKeys)
	for _, k := range metaKeys {
		add(k, meta[k])
	}
	values[r.typ.IdentityField] = string(id)
	if _, ok := native[r.typ.IdentityField]; !ok {
		order = append([]string{r.typ.IdentityField}, order...)
	}
	return values, order, nil
}
