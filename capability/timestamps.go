// Package capability holds reusable behaviours that record types compose
// through their Capabilities list.
package capability

import (
	"context"
	"time"

	"github.com/acksell/dirrecord/record"
)

// Timestamps stamps Field with the creation time when an entity is inserted.
// There is no updated-at counterpart.
type Timestamps struct {
	Field string
	// Now defaults to time.Now.
	Now func() time.Time
}

func (Timestamps) Name() string { return "timestamps" }

func (c Timestamps) OnTypeInit(b *record.Booter) error {
	if c.Field == "" {
		return errMissingField
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	b.Listen(record.EventCreating, func(_ context.Context, ev record.Event) record.Verdict {
		switch v := ev.Entity.Get(c.Field).(type) {
		case nil:
		case string:
			if v != "" {
				return record.Continue
			}
		default:
			return record.Continue
		}
		ev.Entity.Set(c.Field, now().UTC().Format(time.RFC3339))
		return record.Continue
	})
	return nil
}
