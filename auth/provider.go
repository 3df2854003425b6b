// Package auth resolves and verifies directory users for authentication.
package auth

import (
	"context"
	"errors"

	"github.com/acksell/dirrecord/record"
	"github.com/acksell/dirrecord/users"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials covers both unknown logins and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnsupportedLookup is returned for credentials without a login. Email
	// lookups would need a directory query.
	ErrUnsupportedLookup = errors.New("credentials lookup requires user_login")
)

type Credentials struct {
	Login    string
	Email    string
	Password string
}

// Finder is the part of users.Repository the provider needs.
type Finder interface {
	Find(ctx context.Context, id record.ID) (*record.Entity, error)
	FindByLogin(ctx context.Context, login string) (*record.Entity, error)
}

var _ Finder = (*users.Repository)(nil)

type Provider struct {
	users Finder
}

func NewProvider(f Finder) *Provider {
	return &Provider{users: f}
}

// RetrieveByID loads the user with the given identity.
func (p *Provider) RetrieveByID(ctx context.Context, id record.ID) (*record.Entity, error) {
	return p.users.Find(ctx, id)
}

// RetrieveByCredentials loads the user named by c.Login. The password is not checked.
func (p *Provider) RetrieveByCredentials(ctx context.Context, c Credentials) (*record.Entity, error) {
	if c.Login == "" {
		return nil, ErrUnsupportedLookup
	}
	return p.users.FindByLogin(ctx, c.Login)
}

// ValidateCredentials reports whether c.Password matches the user's stored hash.
func (p *Provider) ValidateCredentials(u *record.Entity, c Credentials) bool {
	hash := u.GetString(users.FieldPass)
	if hash == "" || c.Password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(c.Password)) == nil
}

// Authenticate retrieves and validates in one step.
func (p *Provider) Authenticate(ctx context.Context, c Credentials) (*record.Entity, error) {
	u, err := p.RetrieveByCredentials(ctx, c)
	if errors.Is(err, record.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !p.ValidateCredentials(u, c) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}
