package auth_test

import (
	"context"
	"testing"

	"github.com/acksell/dirrecord/auth"
	"github.com/acksell/dirrecord/record"
	"github.com/acksell/dirrecord/record/recordtest"
	"github.com/acksell/dirrecord/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var userType = users.NewType(users.Options{BcryptCost: bcrypt.MinCost})

func newProvider(t *testing.T) (*auth.Provider, record.ID) {
	t.Helper()
	ctx := context.Background()
	dir := recordtest.New(users.FieldLogin)
	repo := users.NewRepository(userType, dir, dir)
	e, saved, err := repo.Register(ctx, map[string]any{
		users.FieldLogin: "bob",
		users.FieldEmail: "b@x.com",
		users.FieldPass:  "hunter2",
	}, nil)
	require.NoError(t, err)
	require.True(t, saved)
	return auth.NewProvider(repo), e.ID()
}

func TestRetrieve(t *testing.T) {
	ctx := context.Background()
	p, id := newProvider(t)

	u, err := p.RetrieveByID(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "bob", u.Get(users.FieldLogin))

	u, err = p.RetrieveByCredentials(ctx, auth.Credentials{Login: "bob"})
	require.NoError(t, err)
	require.Equal(t, id, u.ID())

	_, err = p.RetrieveByCredentials(ctx, auth.Credentials{Email: "b@x.com"})
	require.ErrorIs(t, err, auth.ErrUnsupportedLookup)

	_, err = p.RetrieveByID(ctx, "999")
	require.ErrorIs(t, err, record.ErrRecordNotFound)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	p, id := newProvider(t)

	u, err := p.Authenticate(ctx, auth.Credentials{Login: "bob", Password: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, id, u.ID())
	require.True(t, p.ValidateCredentials(u, auth.Credentials{Password: "hunter2"}))

	cases := []auth.Credentials{
		{Login: "bob", Password: "wrong"},
		{Login: "bob"},
		{Login: "mallory", Password: "hunter2"},
	}
	for _, c := range cases {
		_, err := p.Authenticate(ctx, c)
		require.ErrorIs(t, err, auth.ErrInvalidCredentials, c.Login)
	}
}
