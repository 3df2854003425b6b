package record_test

import (
	"context"
	"sync"
	"testing"

	"github.com/acksell/dirrecord/record"
	"github.com/acksell/dirrecord/record/recordtest"
	"github.com/stretchr/testify/require"
)

// testType returns a user-like type named after the test, so boot state is
// never shared between tests.
func testType(t *testing.T, caps ...record.Capability) *record.Type {
	t.Helper()
	return &record.Type{
		Name:            t.Name(),
		IdentityField:   "ID",
		NaturalKey:      "login",
		NativeFields:    []string{"ID", "login", "email", "status", "registered"},
		SecondaryFields: []string{"login", "status"},
		SystemFields:    []string{"registered"},
		Fillable:        []string{"nickname", "bio"},
		Hidden:          []string{"secret"},
		Defaults:        map[string]any{"bio": "n/a"},
		Capabilities:    caps,
	}
}

func newRepo(t *testing.T, typ *record.Type, opts ...record.Option) (*record.Repository, *recordtest.Directory) {
	t.Helper()
	dir := recordtest.New("login")
	return record.NewRepository(typ, dir, dir, opts...), dir
}

func seedUser(t *testing.T, dir *recordtest.Directory, login string, meta map[string]string) record.ID {
	t.Helper()
	return dir.Seed(map[string]any{
		"login":  login,
		"email":  login + "@x.com",
		"status": "0",
	}, meta)
}

func find(t *testing.T, repo *record.Repository, id record.ID) *record.Entity {
	t.Helper()
	e, err := repo.Find(context.Background(), id)
	require.NoError(t, err)
	return e
}

// eventLog records every lifecycle event fired on a bus.
type eventLog struct {
	mu     sync.Mutex
	events []record.EventName
}

func (l *eventLog) listen(bus *record.Bus, names ...record.EventName) {
	for _, n := range names {
		bus.Listen(record.AnyType, n, func(_ context.Context, ev record.Event) record.Verdict {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.events = append(l.events, ev.Name)
			return record.Continue
		})
	}
}

func (l *eventLog) names() []record.EventName {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]record.EventName(nil), l.events...)
}

var allEvents = []record.EventName{
	record.EventBooting, record.EventBooted,
	record.EventSaving, record.EventCreating, record.EventUpdating,
	record.EventCreated, record.EventUpdated, record.EventSaved,
}
