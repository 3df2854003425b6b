// Package recordtest provides an in-memory, call-recording directory for tests.
package recordtest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/acksell/dirrecord/record"
)

// Method names recorded in Call.Method.
const (
	MethodCreate            = "Store.Create"
	MethodUpdate            = "Store.Update"
	MethodUpdateNativeExtra = "Store.UpdateNativeExtra"
	MethodFetch             = "Store.FetchByIdentity"
	MethodFindByNaturalKey  = "Store.FindByNaturalKey"
	MethodMetaGet           = "Meta.Get"
	MethodMetaUpsert        = "Meta.Upsert"
	MethodMetaDelete        = "Meta.Delete"
)

type Call struct {
	Method string
	ID     record.ID
	Fields map[string]any
	Key    string
	Value  string
}

// Directory implements record.Store and record.Meta over maps. Identities are
// sequential integers rendered as strings.
type Directory struct {
	// NaturalKey is the native field FindByNaturalKey matches on.
	NaturalKey string

	// Failure injection. Errors in MetaErrors are keyed by metadata key.
	CreateErr  error
	UpdateErr  error
	ExtraErr   error
	MetaErrors map[string]error

	mu      sync.Mutex
	seq     int
	records map[record.ID]map[string]any
	meta    map[record.ID]map[string]string
	calls   []Call
}

func New(naturalKey string) *Directory {
	return &Directory{
		NaturalKey: naturalKey,
		MetaErrors: make(map[string]error),
		records:    make(map[record.ID]map[string]any),
		meta:       make(map[record.ID]map[string]string),
	}
}

var (
	_ record.Store = (*Directory)(nil)
	_ record.Meta  = (*Directory)(nil)
)

// Seed stores a record without recording a call and returns its identity.
func (d *Directory) Seed(fields map[string]any, meta map[string]string) record.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID()
	d.records[id] = copyFields(fields)
	d.meta[id] = make(map[string]string)
	for k, v := range meta {
		d.meta[id][k] = v
	}
	return id
}

// Calls returns recorded calls, optionally only the given methods.
func (d *Directory) Calls(methods ...string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(methods) == 0 {
		return append([]Call(nil), d.calls...)
	}
	var out []Call
	for _, c := range d.calls {
		for _, m := range methods {
			if c.Method == m {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Writes returns every recorded call that mutates the directory.
func (d *Directory) Writes() []Call {
	return d.Calls(MethodCreate, MethodUpdate, MethodUpdateNativeExtra, MethodMetaUpsert, MethodMetaDelete)
}

func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Record returns the stored native fields and metadata for id.
func (d *Directory) Record(id record.ID) (map[string]any, map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	meta := make(map[string]string)
	for k, v := range d.meta[id] {
		meta[k] = v
	}
	return copyFields(d.records[id]), meta
}

func (d *Directory) Create(_ context.Context, fields map[string]any) (record.ID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodCreate, Fields: copyFields(fields)})
	if d.CreateErr != nil {
		return "", d.CreateErr
	}
	id := d.nextID()
	d.records[id] = copyFields(fields)
	d.meta[id] = make(map[string]string)
	return id, nil
}

func (d *Directory) Update(_ context.Context, id record.ID, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodUpdate, ID: id, Fields: copyFields(fields)})
	if d.UpdateErr != nil {
		return d.UpdateErr
	}
	return d.merge(id, fields)
}

func (d *Directory) UpdateNativeExtra(_ context.Context, id record.ID, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodUpdateNativeExtra, ID: id, Fields: copyFields(fields)})
	if d.ExtraErr != nil {
		return d.ExtraErr
	}
	return d.merge(id, fields)
}

func (d *Directory) FetchByIdentity(_ context.Context, id record.ID) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodFetch, ID: id})
	rec, ok := d.records[id]
	if !ok {
		return nil, record.ErrRecordNotFound
	}
	return copyFields(rec), nil
}

func (d *Directory) FindByNaturalKey(_ context.Context, value any) (record.ID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodFindByNaturalKey, Value: fmt.Sprint(value)})
	ids := make([]string, 0, len(d.records))
	for id := range d.records {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		if v, ok := d.records[record.ID(id)][d.NaturalKey]; ok && v == value {
			return record.ID(id), true, nil
		}
	}
	return "", false, nil
}

func (d *Directory) Get(_ context.Context, id record.ID) (map[string]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodMetaGet, ID: id})
	out := make(map[string]string)
	for k, v := range d.meta[id] {
		out[k] = v
	}
	return out, nil
}

func (d *Directory) Upsert(_ context.Context, id record.ID, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodMetaUpsert, ID: id, Key: key, Value: value})
	if err := d.MetaErrors[key]; err != nil {
		return err
	}
	if d.meta[id] == nil {
		d.meta[id] = make(map[string]string)
	}
	d.meta[id][key] = value
	return nil
}

func (d *Directory) Delete(_ context.Context, id record.ID, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(Call{Method: MethodMetaDelete, ID: id, Key: key})
	if err := d.MetaErrors[key]; err != nil {
		return err
	}
	delete(d.meta[id], key)
	return nil
}

func (d *Directory) merge(id record.ID, fields map[string]any) error {
	rec, ok := d.records[id]
	if !ok {
		return record.ErrRecordNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (d *Directory) nextID() record.ID {
	d.seq++
	return record.ID(strconv.Itoa(d.seq))
}

func (d *Directory) record(c Call) {
	d.calls = append(d.calls, c)
}

func copyFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
