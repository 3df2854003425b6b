package record

import (
	"context"
	"errors"
	"fmt"
)

// persister splits an entity's dirty set between the native record channel and
// the per-key metadata channel.
type persister struct {
	typ     *Type
	st      *bootState
	store   Store
	meta    Meta
	logger  Logger
	metrics MetricsRecorder
}

func (r *Repository) persister(st *bootState) persister {
	return persister{
		typ:     r.typ,
		st:      st,
		store:   r.store,
		meta:    r.meta,
		logger:  r.logger,
		metrics: r.metrics,
	}
}

// persist writes the entity and returns its identity, newly assigned for inserts.
// Native writes happen before metadata writes. A rejected rename writes nothing.
func (p persister) persist(ctx context.Context, e *Entity) (ID, error) {
	if !e.exists {
		return p.insert(ctx, e)
	}
	var native, metaKeys []string
	for _, k := range e.attrs.DirtyKeys() {
		switch {
		case k == p.typ.IdentityField:
		case p.st.isNative(k):
			native = append(native, k)
		default:
			metaKeys = append(metaKeys, k)
		}
	}

	if contains(native, p.typ.NaturalKey) {
		if err := p.resolveNaturalKey(ctx, e); err != nil {
			return e.id, err
		}
	}

	primary := make(map[string]any)
	extra := make(map[string]any)
	for _, k := range native {
		v, _ := e.attrs.Get(k)
		if p.st.isSecondary(k) {
			extra[k] = v
		} else {
			primary[k] = v
		}
	}
	if len(primary) > 0 {
		if err := p.store.Update(ctx, e.id, primary); err != nil {
			return e.id, p.nativeErr("update", e.id, err)
		}
	}
	if len(extra) > 0 {
		if err := p.store.UpdateNativeExtra(ctx, e.id, extra); err != nil {
			return e.id, p.nativeErr("update extra", e.id, err)
		}
	}
	return e.id, p.writeMeta(ctx, e, e.id, metaKeys)
}

// insert creates the record from the full native snapshot. Every non-nil
// metadata attribute is written, since a fresh record has no metadata yet.
func (p persister) insert(ctx context.Context, e *Entity) (ID, error) {
	snapshot := make(map[string]any)
	for _, f := range p.typ.NativeFields {
		if f == p.typ.IdentityField {
			continue
		}
		if v, ok := e.attrs.Get(f); ok {
			snapshot[f] = v
		}
	}
	id, err := p.store.Create(ctx, snapshot)
	if err != nil {
		return "", p.nativeErr("create", "", err)
	}
	if id.IsZero() {
		return "", p.nativeErr("create", "", errors.New("store returned an empty identity"))
	}

	var metaKeys []string
	for _, k := range e.attrs.Keys() {
		if k == p.typ.IdentityField || p.st.isNative(k) {
			continue
		}
		if v, _ := e.attrs.Get(k); v != nil {
			metaKeys = append(metaKeys, k)
		}
	}
	return id, p.writeMeta(ctx, e, id, metaKeys)
}

// writeMeta upserts non-nil values and deletes nil ones, one key at a time and
// in order. A failed key does not stop the rest; all failures are reported together.
func (p persister) writeMeta(ctx context.Context, e *Entity, id ID, keys []string) error {
	var (
		failed []string
		errs   []error
	)
	for _, k := range keys {
		v, _ := e.attrs.Get(k)
		var err error
		if v == nil {
			err = p.meta.Delete(ctx, id, k)
		} else {
			err = p.meta.Upsert(ctx, id, k, metaString(v))
		}
		if err != nil {
			failed = append(failed, k)
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			p.metrics.MetadataFailure(p.typ.Name, k)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	p.logger.Warn("metadata write incomplete", "type", p.typ.Name, "id", id, "failed", failed, "attempted", len(keys))
	return &PersistenceError{
		Type:       p.typ.Name,
		Op:         "write",
		Channel:    ChannelMeta,
		ID:         id,
		FailedKeys: failed,
		Err:        errors.Join(errs...),
	}
}

func (p persister) nativeErr(op string, id ID, err error) error {
	p.logger.Error("native write failed", "type", p.typ.Name, "id", id, "op", op, "error", err)
	return &PersistenceError{Type: p.typ.Name, Op: op, Channel: ChannelNative, ID: id, Err: err}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
