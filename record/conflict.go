package record

import "context"

// resolveNaturalKey rejects a rename onto a natural key owned by another record.
// It only reads, and must run before any write of the same persist call.
func (p persister) resolveNaturalKey(ctx context.Context, e *Entity) error {
	key := p.typ.NaturalKey
	current, _ := e.attrs.Get(key)
	if sameValue(current, e.attrs.GetOriginal(key)) {
		return nil
	}
	owner, found, err := p.store.FindByNaturalKey(ctx, current)
	if err != nil {
		return &PersistenceError{Type: p.typ.Name, Op: "find", Channel: ChannelNative, ID: e.id, Err: err}
	}
	if found && owner != e.id {
		return &ConflictError{Type: p.typ.Name, Field: key, Value: current, ConflictingID: owner}
	}
	return nil
}
