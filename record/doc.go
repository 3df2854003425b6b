// Package record is an active-record style persistence core for entities owned by
// a schema-rigid directory store.
//
// A directory accepts a fixed set of native fields through its record primitives
// and everything else through a per-record key/value metadata channel. An [Entity]
// hides that split: application code gets and sets attributes, and [Entity.Save]
// works out which channel each dirty attribute goes to.
//
// # Lifecycle
//
// Save fires saving, then creating or updating. Any listener may answer [Veto],
// which cancels the save before anything is written; Save then returns false
// without an error. After the write, created or updated fires, the entity is
// re-read from the store, and saved fires.
//
// # Types
//
// A [Type] is booted once per process, on first use. Booting validates the field
// classification, then runs the type hooks of its capabilities in order:
//
//	var Users = &record.Type{
//		Name:          "user",
//		IdentityField: "ID",
//		NaturalKey:    "user_login",
//		NativeFields:  []string{"ID", "user_login", "user_email"},
//		Fillable:      []string{"nickname"},
//		Capabilities:  []record.Capability{capability.Timestamps{Field: "user_registered"}},
//	}
//
// Metadata writes are not transactional with the native write nor with each
// other. A partial failure is reported as a [PersistenceError] listing the keys
// that did not go through.
package record
