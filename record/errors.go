package record

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a type definition that cannot be booted. A type that
// failed to boot stays unusable for the life of the process.
type ConfigurationError struct {
	Type   string
	Fields []string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("record type %q: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("record type %q: %s: %s", e.Type, e.Reason, strings.Join(e.Fields, ","))
}

// MassAssignmentError is returned by Fill when a key is not in the type's fillable list.
type MassAssignmentError struct {
	Type string
	Key  string
}

func (e *MassAssignmentError) Error() string {
	return fmt.Sprintf("add [%s] to fillable to allow mass assignment on [%s]", e.Key, e.Type)
}

// ConflictError is returned when a natural-key rename collides with another record.
type ConflictError struct {
	Type          string
	Field         string
	Value         any
	ConflictingID ID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s %v already exists (id %s)", e.Type, e.Field, e.Value, e.ConflictingID)
}

// Channel names used in PersistenceError.
const (
	ChannelNative = "native"
	ChannelMeta   = "meta"
)

// PersistenceError wraps a failure of the directory store. For the metadata
// channel FailedKeys lists every key whose write or delete did not go through;
// the remaining keys were written.
type PersistenceError struct {
	Type       string
	Op         string
	Channel    string
	ID         ID
	FailedKeys []string
	Err        error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("%s %s (%s channel)", e.Type, e.Op, e.Channel)
	if !e.ID.IsZero() {
		msg += " id " + e.ID.String()
	}
	if len(e.FailedKeys) > 0 {
		msg += " keys [" + strings.Join(e.FailedKeys, ",") + "]"
	}
	return msg + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotFoundError is returned when hydrating an identity the store does not know.
type NotFoundError struct {
	Type string
	ID   ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Type, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrRecordNotFound }

// EventError wraps a listener that answered Fail.
type EventError struct {
	Event EventName
	Type  string
	Err   error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s %s listener: %v", e.Type, e.Event, e.Err)
}

func (e *EventError) Unwrap() error { return e.Err }
