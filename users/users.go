// Package users defines the directory user entity type.
package users

import (
	"context"
	"maps"
	"slices"

	"github.com/acksell/dirrecord/capability"
	"github.com/acksell/dirrecord/record"
	"golang.org/x/crypto/bcrypt"
)

const TypeName = "user"

// Native user fields.
const (
	FieldID            = "ID"
	FieldLogin         = "user_login"
	FieldPass          = "user_pass"
	FieldNicename      = "user_nicename"
	FieldEmail         = "user_email"
	FieldURL           = "user_url"
	FieldRegistered    = "user_registered"
	FieldActivationKey = "user_activation_key"
	FieldStatus        = "user_status"
	FieldDisplayName   = "display_name"
	FieldRole          = "role"
	FieldLocale        = "locale"
)

var NativeFields = []string{
	FieldID, FieldLogin, FieldPass, FieldNicename, FieldEmail, FieldURL,
	FieldRegistered, FieldActivationKey, FieldStatus, FieldDisplayName, FieldRole, FieldLocale,
}

// SecondaryFields are ignored by the directory's primary user update.
var SecondaryFields = []string{FieldLogin, FieldActivationKey, FieldStatus}

var DefaultHidden = []string{FieldPass, FieldActivationKey}

// Options tailor the user type. Zero values give the stock type.
type Options struct {
	Fillable   []string
	Hidden     []string
	Defaults   map[string]any
	BcryptCost int
	Rules      []capability.Rule
	// Extra capabilities run after the built-in ones.
	Extra []record.Capability
}

// NewType builds the user type. Type names are process-wide, so build it once.
func NewType(opts Options) *record.Type {
	hidden := opts.Hidden
	if hidden == nil {
		hidden = DefaultHidden
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	caps := []record.Capability{
		capability.Timestamps{Field: FieldRegistered},
		capability.PasswordHashing{Field: FieldPass, Cost: cost},
	}
	if len(opts.Rules) > 0 {
		caps = append(caps, capability.Rules(opts.Rules))
	}
	caps = append(caps, opts.Extra...)

	return &record.Type{
		Name:            TypeName,
		IdentityField:   FieldID,
		NaturalKey:      FieldLogin,
		NativeFields:    NativeFields,
		SecondaryFields: SecondaryFields,
		SystemFields:    []string{FieldRegistered},
		Fillable:        opts.Fillable,
		Hidden:          hidden,
		Defaults:        maps.Clone(opts.Defaults),
		Capabilities:    caps,
	}
}

// WithPasswordAlreadyHashed stores user_pass verbatim for saves made with the
// returned context.
func WithPasswordAlreadyHashed(ctx context.Context) context.Context {
	return capability.WithPasswordAlreadyHashed(ctx)
}

// Repository is a user-typed view over a record repository.
type Repository struct {
	*record.Repository
}

func NewRepository(t *record.Type, store record.Store, meta record.Meta, opts ...record.Option) *Repository {
	return &Repository{Repository: record.NewRepository(t, store, meta, opts...)}
}

// FindByLogin loads the user owning login.
func (r *Repository) FindByLogin(ctx context.Context, login string) (*record.Entity, error) {
	return r.FindByNaturalKey(ctx, login)
}

// Register creates a user from trusted input. Native fields are set directly;
// everything else goes through the fillable guard.
func (r *Repository) Register(ctx context.Context, native map[string]any, attrs map[string]any) (*record.Entity, bool, error) {
	e, err := r.New(ctx, attrs)
	if err != nil {
		return nil, false, err
	}
	for _, k := range slices.Sorted(maps.Keys(native)) {
		e.Set(k, native[k])
	}
	saved, err := e.Save(ctx)
	return e, saved, err
}
