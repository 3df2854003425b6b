package record_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/acksell/dirrecord/record"
	"github.com/acksell/dirrecord/record/recordtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFill(t *testing.T) {
	ctx := context.Background()

	t.Run("fillable keys are set", func(t *testing.T) {
		repo, _ := newRepo(t, testType(t))
		e, err := repo.New(ctx, map[string]any{"nickname": "bobby"})
		require.NoError(t, err)
		require.Equal(t, "bobby", e.Get("nickname"))
		require.True(t, e.IsDirty("nickname"))
	})
	t.Run("unlisted key fails without partial fill", func(t *testing.T) {
		repo, _ := newRepo(t, testType(t))
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)

		err = e.Fill(map[string]any{"nickname": "bobby", "email": "evil@x.com"})
		var massErr *record.MassAssignmentError
		require.ErrorAs(t, err, &massErr)
		require.Equal(t, "email", massErr.Key)
		require.Equal(t, t.Name(), massErr.Type)
		require.Nil(t, e.Get("nickname"))
		require.Nil(t, e.Get("email"))
		require.False(t, e.IsDirty())
	})
	t.Run("native fields can still be set directly", func(t *testing.T) {
		repo, _ := newRepo(t, testType(t))
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("email", "b@x.com")
		require.Equal(t, "b@x.com", e.Get("email"))
	})
}

func TestSaveInsert(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))

	e, err := repo.New(ctx, nil)
	require.NoError(t, err)
	e.Set("login", "bob")
	e.Set("email", "b@x.com")

	saved, err := e.Save(ctx)
	require.NoError(t, err)
	require.True(t, saved)

	creates := dir.Calls(recordtest.MethodCreate)
	require.Len(t, creates, 1)
	require.Equal(t, map[string]any{"login": "bob", "email": "b@x.com"}, creates[0].Fields)
	require.Empty(t, dir.Calls(recordtest.MethodMetaUpsert, recordtest.MethodMetaDelete))
	require.Empty(t, dir.Calls(recordtest.MethodUpdate, recordtest.MethodUpdateNativeExtra))

	require.True(t, e.Exists())
	require.True(t, e.WasRecentlyCreated())
	require.Equal(t, record.ID("1"), e.ID())
	require.Equal(t, "1", e.Get("ID"))
	require.False(t, e.IsDirty())
}

func TestSaveInsertWritesMetadata(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))

	e, err := repo.New(ctx, map[string]any{"nickname": "bobby", "bio": nil})
	require.NoError(t, err)
	e.Set("login", "bob")

	_, err = e.Save(ctx)
	require.NoError(t, err)

	upserts := dir.Calls(recordtest.MethodMetaUpsert)
	require.Len(t, upserts, 1)
	assert.Equal(t, "nickname", upserts[0].Key)
	assert.Equal(t, "bobby", upserts[0].Value)
	assert.Equal(t, e.ID(), upserts[0].ID)
	assert.Empty(t, dir.Calls(recordtest.MethodMetaDelete))
}

func TestSaveMetadataOnlyUpdate(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	id := seedUser(t, dir, "bob", map[string]string{"nickname": "bob"})

	e := find(t, repo, id)
	require.Equal(t, "bob", e.Get("nickname"))
	e.Set("nickname", "bobby")

	saved, err := e.Save(ctx)
	require.NoError(t, err)
	require.True(t, saved)

	writes := dir.Writes()
	require.Len(t, writes, 1)
	require.Equal(t, recordtest.Call{Method: recordtest.MethodMetaUpsert, ID: id, Key: "nickname", Value: "bobby"}, writes[0])
	require.False(t, e.WasRecentlyCreated())
}

func TestSaveSplitsNativeFields(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	id := seedUser(t, dir, "bob", nil)

	e := find(t, repo, id)
	e.Set("email", "new@x.com")
	e.Set("status", "1")
	e.Set("login", "robert")

	_, err := e.Save(ctx)
	require.NoError(t, err)

	updates := dir.Calls(recordtest.MethodUpdate)
	require.Len(t, updates, 1)
	require.Equal(t, map[string]any{"email": "new@x.com"}, updates[0].Fields)

	extras := dir.Calls(recordtest.MethodUpdateNativeExtra)
	require.Len(t, extras, 1)
	require.Equal(t, map[string]any{"status": "1", "login": "robert"}, extras[0].Fields)

	require.Len(t, dir.Calls(recordtest.MethodFindByNaturalKey), 1)
	native, _ := dir.Record(id)
	require.Equal(t, "robert", native["login"])
}

func TestSaveNilMetadataDeletes(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	id := seedUser(t, dir, "bob", map[string]string{"nickname": "bob"})

	e := find(t, repo, id)
	e.Set("nickname", nil)
	_, err := e.Save(ctx)
	require.NoError(t, err)

	writes := dir.Writes()
	require.Len(t, writes, 1)
	require.Equal(t, recordtest.MethodMetaDelete, writes[0].Method)
	require.Equal(t, "nickname", writes[0].Key)

	_, meta := dir.Record(id)
	require.NotContains(t, meta, "nickname")
	require.Nil(t, e.Get("nickname"))
}

func TestSaveConflictingRename(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	bob := seedUser(t, dir, "bob", nil)
	alice := seedUser(t, dir, "alice", nil)

	e := find(t, repo, bob)
	e.Set("login", "alice")
	e.Set("email", "bob@new.com")
	e.Set("nickname", "al")
	dir.Reset()

	saved, err := e.Save(ctx)
	require.False(t, saved)
	var conflict *record.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "login", conflict.Field)
	require.Equal(t, "alice", conflict.Value)
	require.Equal(t, alice, conflict.ConflictingID)

	require.Empty(t, dir.Writes())
	require.True(t, e.IsDirty("login"))
}

func TestSaveRenameToFreeKey(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	id := seedUser(t, dir, "bob", nil)

	e := find(t, repo, id)
	e.Set("login", "robert")
	_, err := e.Save(ctx)
	require.NoError(t, err)
	require.Equal(t, "robert", e.Get("login"))
	require.Equal(t, "robert", e.GetOriginal("login"))
}

func TestSaveVetoes(t *testing.T) {
	ctx := context.Background()
	for _, name := range []record.EventName{record.EventSaving, record.EventCreating} {
		t.Run(string(name)+" on insert", func(t *testing.T) {
			bus := record.NewBus()
			bus.Listen(t.Name(), name, func(context.Context, record.Event) record.Verdict {
				return record.Veto("not today")
			})
			repo, dir := newRepo(t, testType(t), record.WithDispatcher(bus))
			e, err := repo.New(ctx, map[string]any{"nickname": "bobby"})
			require.NoError(t, err)
			e.Set("login", "bob")

			saved, err := e.Save(ctx)
			require.NoError(t, err)
			require.False(t, saved)
			require.Empty(t, dir.Calls())
			require.False(t, e.Exists())
			require.True(t, e.IsDirty("login"))
		})
	}
	t.Run("updating on update", func(t *testing.T) {
		bus := record.NewBus()
		bus.Listen(t.Name(), record.EventUpdating, func(context.Context, record.Event) record.Verdict {
			return record.Veto("frozen")
		})
		repo, dir := newRepo(t, testType(t), record.WithDispatcher(bus))
		id := seedUser(t, dir, "bob", nil)
		e := find(t, repo, id)
		e.Set("email", "other@x.com")
		dir.Reset()

		saved, err := e.Save(ctx)
		require.NoError(t, err)
		require.False(t, saved)
		require.Empty(t, dir.Calls())
	})
	t.Run("updating veto does not apply to inserts", func(t *testing.T) {
		bus := record.NewBus()
		bus.Listen(t.Name(), record.EventUpdating, func(context.Context, record.Event) record.Verdict {
			return record.Veto("frozen")
		})
		repo, _ := newRepo(t, testType(t), record.WithDispatcher(bus))
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		e.Set("login", "bob")
		saved, err := e.Save(ctx)
		require.NoError(t, err)
		require.True(t, saved)
	})
}

func TestSaveListenerFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("validator offline")
	bus := record.NewBus()
	bus.Listen(record.AnyType, record.EventSaving, func(context.Context, record.Event) record.Verdict {
		return record.Fail(boom)
	})
	repo, dir := newRepo(t, testType(t), record.WithDispatcher(bus))
	e, err := repo.New(ctx, nil)
	require.NoError(t, err)
	e.Set("login", "bob")

	saved, err := e.Save(ctx)
	require.False(t, saved)
	require.ErrorIs(t, err, boom)
	var evErr *record.EventError
	require.ErrorAs(t, err, &evErr)
	require.Equal(t, record.EventSaving, evErr.Event)
	require.Empty(t, dir.Calls())
}

func TestSaveObserverFailureDoesNotSilenceOthers(t *testing.T) {
	ctx := context.Background()
	c := &counter{onType: func(b *record.Booter) error {
		b.Listen(record.EventCreated, func(context.Context, record.Event) record.Verdict {
			return record.Fail(errors.New("audit offline"))
		})
		return nil
	}}
	bus := record.NewBus()
	var seen []string
	bus.Listen(record.AnyType, record.EventCreated, func(context.Context, record.Event) record.Verdict {
		seen = append(seen, "first")
		return record.Fail(errors.New("mailer offline"))
	})
	bus.Listen(record.AnyType, record.EventCreated, func(context.Context, record.Event) record.Verdict {
		seen = append(seen, "second")
		return record.Continue
	})
	repo, _ := newRepo(t, testType(t, c), record.WithDispatcher(bus))

	e, err := repo.New(ctx, nil)
	require.NoError(t, err)
	e.Set("login", "bob")
	saved, err := e.Save(ctx)
	require.NoError(t, err)
	require.True(t, saved)
	require.Equal(t, []string{"first", "second"}, seen)
}

func TestSaveEventOrder(t *testing.T) {
	ctx := context.Background()
	bus := record.NewBus()
	log := &eventLog{}
	log.listen(bus, allEvents...)
	repo, _ := newRepo(t, testType(t), record.WithDispatcher(bus))

	e, err := repo.New(ctx, nil)
	require.NoError(t, err)
	e.Set("login", "bob")
	_, err = e.Save(ctx)
	require.NoError(t, err)

	e.Set("email", "b@x.com")
	_, err = e.Save(ctx)
	require.NoError(t, err)

	require.Equal(t, []record.EventName{
		record.EventBooting, record.EventBooted,
		record.EventSaving, record.EventCreating, record.EventCreated, record.EventSaved,
		record.EventSaving, record.EventUpdating, record.EventUpdated, record.EventSaved,
	}, log.names())
}

func TestSaveListenerSeesEntity(t *testing.T) {
	ctx := context.Background()
	bus := record.NewBus()
	var createdID record.ID
	bus.Listen(record.AnyType, record.EventCreated, func(_ context.Context, ev record.Event) record.Verdict {
		createdID = ev.Entity.ID()
		return record.Continue
	})
	bus.Listen(record.AnyType, record.EventSaving, func(_ context.Context, ev record.Event) record.Verdict {
		ev.Entity.Set("email", "stamped@x.com")
		return record.Continue
	})
	repo, dir := newRepo(t, testType(t), record.WithDispatcher(bus))
	e, err := repo.New(ctx, nil)
	require.NoError(t, err)
	e.Set("login", "bob")
	_, err = e.Save(ctx)
	require.NoError(t, err)

	require.Equal(t, e.ID(), createdID)
	native, _ := dir.Record(e.ID())
	require.Equal(t, "stamped@x.com", native["email"])
}

func TestSaveNativeFailure(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	id := seedUser(t, dir, "bob", nil)
	dir.UpdateErr = errors.New("directory unavailable")

	e := find(t, repo, id)
	e.Set("email", "new@x.com")
	e.Set("nickname", "bobby")
	saved, err := e.Save(ctx)
	require.False(t, saved)

	var pErr *record.PersistenceError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, record.ChannelNative, pErr.Channel)
	require.ErrorIs(t, err, dir.UpdateErr)
	require.Empty(t, dir.Calls(recordtest.MethodMetaUpsert))
	require.True(t, e.IsDirty("email"))
}

func TestSaveMetadataPartialFailure(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	id := seedUser(t, dir, "bob", nil)
	dir.MetaErrors["bio"] = errors.New("quota exceeded")

	e := find(t, repo, id)
	e.Set("bio", "hello")
	e.Set("nickname", "bobby")
	saved, err := e.Save(ctx)
	require.False(t, saved)

	var pErr *record.PersistenceError
	require.ErrorAs(t, err, &pErr)
	require.Equal(t, record.ChannelMeta, pErr.Channel)
	require.Equal(t, []string{"bio"}, pErr.FailedKeys)

	_, meta := dir.Record(id)
	require.Equal(t, "bobby", meta["nickname"])
	require.NotContains(t, meta, "bio")
}

func TestSaveInsertMetadataFailureKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo, dir := newRepo(t, testType(t))
	dir.MetaErrors["nickname"] = errors.New("throttled")

	e, err := repo.New(ctx, map[string]any{"nickname": "bobby"})
	require.NoError(t, err)
	e.Set("login", "bob")
	_, err = e.Save(ctx)
	require.Error(t, err)
	require.True(t, e.Exists())
	require.False(t, e.ID().IsZero())

	delete(dir.MetaErrors, "nickname")
	dir.Reset()
	saved, err := e.Save(ctx)
	require.NoError(t, err)
	require.True(t, saved)
	require.Empty(t, dir.Calls(recordtest.MethodCreate))
	_, meta := dir.Record(e.ID())
	require.Equal(t, "bobby", meta["nickname"])
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("not existing returns false", func(t *testing.T) {
		repo, dir := newRepo(t, testType(t))
		e, err := repo.New(ctx, nil)
		require.NoError(t, err)
		saved, err := e.Update(ctx, map[string]any{"nickname": "bobby"})
		require.NoError(t, err)
		require.False(t, saved)
		require.Empty(t, dir.Calls())
		require.Nil(t, e.Get("nickname"))
	})
	t.Run("fills and saves", func(t *testing.T) {
		repo, dir := newRepo(t, testType(t))
		id := seedUser(t, dir, "bob", nil)
		e := find(t, repo, id)
		saved, err := e.Update(ctx, map[string]any{"nickname": "bobby"})
		require.NoError(t, err)
		require.True(t, saved)
		_, meta := dir.Record(id)
		require.Equal(t, "bobby", meta["nickname"])
	})
	t.Run("guarded key fails", func(t *testing.T) {
		repo, dir := newRepo(t, testType(t))
		id := seedUser(t, dir, "bob", nil)
		e := find(t, repo, id)
		dir.Reset()
		_, err := e.Update(ctx, map[string]any{"login": "root"})
		var massErr *record.MassAssignmentError
		require.ErrorAs(t, err, &massErr)
		require.Empty(t, dir.Writes())
	})
}

func TestFind(t *testing.T) {
	ctx := context.Background()

	t.Run("merges metadata behind native fields", func(t *testing.T) {
		repo, dir := newRepo(t, testType(t))
		id := dir.Seed(map[string]any{"login": "bob", "email": "b@x.com"}, map[string]string{
			"email":    "shadowed@x.com",
			"nickname": "bobby",
			"secret":   "s3cr3t",
		})
		e := find(t, repo, id)
		require.Equal(t, "b@x.com", e.Get("email"))
		require.Equal(t, "bobby", e.Get("nickname"))
		require.False(t, e.IsDirty())
		require.True(t, e.Exists())
		require.False(t, e.WasRecentlyCreated())
		require.Equal(t, "n/a", e.Get("bio"))
		require.Nil(t, e.Get("unknown"))

		m := e.ToMap()
		require.NotContains(t, m, "secret")
		require.Equal(t, string(id), m["ID"])

		raw, err := json.Marshal(e)
		require.NoError(t, err)
		require.JSONEq(t, `{"ID":"1","login":"bob","email":"b@x.com","nickname":"bobby"}`, string(raw))
	})
	t.Run("missing identity", func(t *testing.T) {
		repo, _ := newRepo(t, testType(t))
		_, err := repo.Find(ctx, "404")
		var nf *record.NotFoundError
		require.ErrorAs(t, err, &nf)
		require.Equal(t, record.ID("404"), nf.ID)
		require.ErrorIs(t, err, record.ErrRecordNotFound)
	})
	t.Run("by natural key", func(t *testing.T) {
		repo, dir := newRepo(t, testType(t))
		seedUser(t, dir, "alice", nil)
		id := seedUser(t, dir, "bob", nil)
		e, err := repo.FindByNaturalKey(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, id, e.ID())

		_, err = repo.FindByNaturalKey(ctx, "carol")
		require.ErrorIs(t, err, record.ErrRecordNotFound)
	})
}

func TestRefreshClearsRecentlyCreated(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRepo(t, testType(t))
	e, saved, err := repo.Create(ctx, map[string]any{"nickname": "bobby"})
	require.NoError(t, err)
	require.True(t, saved)
	require.True(t, e.WasRecentlyCreated())

	e.Set("nickname", "local change")
	require.NoError(t, e.Refresh(ctx))
	require.False(t, e.WasRecentlyCreated())
	require.Equal(t, "bobby", e.Get("nickname"))
	require.False(t, e.IsDirty())
}
