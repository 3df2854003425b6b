package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/acksell/dirrecord/record"
	"golang.org/x/crypto/bcrypt"
)

var errMissingField = errors.New("field is required")

type alreadyHashedKey struct{}

// WithPasswordAlreadyHashed marks ctx so that saves made with it store the
// password value as given.
func WithPasswordAlreadyHashed(ctx context.Context) context.Context {
	return context.WithValue(ctx, alreadyHashedKey{}, true)
}

func passwordAlreadyHashed(ctx context.Context) bool {
	v, _ := ctx.Value(alreadyHashedKey{}).(bool)
	return v
}

// PasswordHashing replaces a dirty plaintext password with its bcrypt hash
// before every save. Values that already parse as bcrypt hashes are kept.
type PasswordHashing struct {
	Field string
	// Cost defaults to bcrypt.DefaultCost.
	Cost int
}

func (PasswordHashing) Name() string { return "password-hashing" }

func (c PasswordHashing) OnTypeInit(b *record.Booter) error {
	if c.Field == "" {
		return errMissingField
	}
	cost := c.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	b.Listen(record.EventSaving, func(ctx context.Context, ev record.Event) record.Verdict {
		e := ev.Entity
		if !e.IsDirty(c.Field) || passwordAlreadyHashed(ctx) {
			return record.Continue
		}
		plain := e.GetString(c.Field)
		if plain == "" || IsPasswordHash(plain) {
			return record.Continue
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
		if err != nil {
			return record.Fail(fmt.Errorf("hash %s: %w", c.Field, err))
		}
		e.Set(c.Field, string(hash))
		return record.Continue
	})
	return nil
}

// IsPasswordHash reports whether s is a bcrypt hash.
func IsPasswordHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}
