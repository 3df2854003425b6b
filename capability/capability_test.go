package capability_test

import (
	"context"
	"testing"
	"time"

	"github.com/acksell/dirrecord/capability"
	"github.com/acksell/dirrecord/record"
	"github.com/acksell/dirrecord/record/recordtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func accountType(t *testing.T, caps ...record.Capability) *record.Type {
	t.Helper()
	return &record.Type{
		Name:            t.Name(),
		IdentityField:   "ID",
		NaturalKey:      "login",
		NativeFields:    []string{"ID", "login", "pass", "email", "registered"},
		SecondaryFields: []string{"login"},
		SystemFields:    []string{"registered"},
		Fillable:        []string{"nickname"},
		Hidden:          []string{"pass"},
		Capabilities:    caps,
	}
}

func newRepo(t *testing.T, caps ...record.Capability) (*record.Repository, *recordtest.Directory) {
	t.Helper()
	dir := recordtest.New("login")
	return record.NewRepository(accountType(t, caps...), dir, dir), dir
}

func TestTimestamps(t *testing.T) {
	ctx := context.Background()
	clock := func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600)) }

	t.Run("stamps on insert", func(t *testing.T) {
		repo, dir := newRepo(t, capability.Timestamps{Field: "registered", Now: clock})
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		_, err = e.Save(ctx)
		require.NoError(t, err)

		require.Equal(t, "2024-03-01T11:30:00Z", e.Get("registered"))
		require.Equal(t, "2024-03-01T11:30:00Z", dir.Calls(recordtest.MethodCreate)[0].Fields["registered"])
	})
	t.Run("keeps an explicit value", func(t *testing.T) {
		repo, _ := newRepo(t, capability.Timestamps{Field: "registered", Now: clock})
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		e.Set("registered", "2001-01-01T00:00:00Z")
		_, err = e.Save(ctx)
		require.NoError(t, err)
		require.Equal(t, "2001-01-01T00:00:00Z", e.Get("registered"))
	})
	t.Run("updates are not stamped", func(t *testing.T) {
		repo, dir := newRepo(t, capability.Timestamps{Field: "registered", Now: clock})
		id := dir.Seed(map[string]any{"login": "bob"}, nil)
		e, err := repo.Find(ctx, id)
		require.NoError(t, err)
		e.Set("email", "b@x.com")
		_, err = e.Save(ctx)
		require.NoError(t, err)
		require.Nil(t, e.Get("registered"))
	})
	t.Run("field is required", func(t *testing.T) {
		repo, _ := newRepo(t, capability.Timestamps{})
		var cfgErr *record.ConfigurationError
		require.ErrorAs(t, repo.Boot(ctx), &cfgErr)
	})
}

func TestPasswordHashing(t *testing.T) {
	ctx := context.Background()
	hashing := capability.PasswordHashing{Field: "pass", Cost: bcrypt.MinCost}

	t.Run("hashes dirty plaintext", func(t *testing.T) {
		repo, dir := newRepo(t, hashing)
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		e.Set("pass", "hunter2")
		_, err = e.Save(ctx)
		require.NoError(t, err)

		stored := dir.Calls(recordtest.MethodCreate)[0].Fields["pass"].(string)
		require.True(t, capability.IsPasswordHash(stored))
		require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored), []byte("hunter2")))
		require.NotContains(t, e.ToMap(), "pass")
	})
	t.Run("clean password is left alone", func(t *testing.T) {
		repo, dir := newRepo(t, hashing)
		id := dir.Seed(map[string]any{"login": "bob", "pass": "legacy"}, nil)
		e, err := repo.Find(ctx, id)
		require.NoError(t, err)
		e.Set("email", "b@x.com")
		_, err = e.Save(ctx)
		require.NoError(t, err)
		native, _ := dir.Record(id)
		require.Equal(t, "legacy", native["pass"])
	})
	t.Run("existing hash is kept", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
		require.NoError(t, err)
		repo, dir := newRepo(t, hashing)
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		e.Set("pass", string(hash))
		_, err = e.Save(ctx)
		require.NoError(t, err)
		require.Equal(t, string(hash), dir.Calls(recordtest.MethodCreate)[0].Fields["pass"])
	})
	t.Run("already hashed context skips hashing", func(t *testing.T) {
		repo, dir := newRepo(t, hashing)
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		e.Set("pass", "opaque-digest")
		_, err = e.Save(capability.WithPasswordAlreadyHashed(ctx))
		require.NoError(t, err)
		require.Equal(t, "opaque-digest", dir.Calls(recordtest.MethodCreate)[0].Fields["pass"])
	})
	t.Run("cost out of range", func(t *testing.T) {
		repo, _ := newRepo(t, capability.PasswordHashing{Field: "pass", Cost: 99})
		require.Error(t, repo.Boot(ctx))
	})
}

func TestRules(t *testing.T) {
	ctx := context.Background()
	emailRules := []struct {
		engine string
		expr   string
	}{
		{capability.EngineExpr, `attrs.email == nil || attrs.email contains "@"`},
		{capability.EngineCEL, `!("email" in attrs) || attrs.email.contains("@")`},
	}
	for _, tc := range emailRules {
		t.Run(tc.engine, func(t *testing.T) {
			rules := capability.Rules{{Name: "email", Engine: tc.engine, Expr: tc.expr, Message: "email must contain @"}}
			repo, dir := newRepo(t, rules)

			e, err := repo.New(ctx, nil)
			require.NoError(t, err)
			e.Set("login", "bob")
			e.Set("email", "not-an-address")
			saved, err := e.Save(ctx)
			require.NoError(t, err)
			require.False(t, saved)
			require.Empty(t, dir.Calls())

			e.Set("email", "b@x.com")
			saved, err = e.Save(ctx)
			require.NoError(t, err)
			require.True(t, saved)
		})
	}
	t.Run("exists and dirty are visible", func(t *testing.T) {
		rules := capability.Rules{{
			Name:    "frozen-login",
			Engine:  capability.EngineCEL,
			Expr:    `!exists || !("login" in dirty)`,
			Message: "login cannot change",
		}}
		repo, dir := newRepo(t, rules)
		id := dir.Seed(map[string]any{"login": "bob"}, nil)
		e, err := repo.Find(ctx, id)
		require.NoError(t, err)
		e.Set("login", "robert")
		saved, err := e.Save(ctx)
		require.NoError(t, err)
		require.False(t, saved)
	})
	t.Run("non-boolean result fails the save", func(t *testing.T) {
		repo, _ := newRepo(t, capability.Rules{{Name: "oops", Engine: capability.EngineExpr, Expr: `attrs.login`}})
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		_, err = e.Save(ctx)
		var evErr *record.EventError
		require.ErrorAs(t, err, &evErr)
	})
	t.Run("bad expressions fail the boot", func(t *testing.T) {
		for _, r := range []capability.Rule{
			{Name: "syntax", Engine: capability.EngineCEL, Expr: `attrs.(`},
			{Name: "engine", Engine: "lua", Expr: `true`},
			{Name: "empty", Engine: capability.EngineExpr},
		} {
			require.Error(t, capability.ValidateRule(r), r.Name)
		}
		repo, _ := newRepo(t, capability.Rules{{Name: "syntax", Engine: capability.EngineExpr, Expr: `attrs.(`}})
		var cfgErr *record.ConfigurationError
		require.ErrorAs(t, repo.Boot(ctx), &cfgErr)
	})
}
