// Package badgerdir is an embedded directory backed by BadgerDB. It implements
// both record channels: user records with a unique login index, and per-user
// metadata rows.
package badgerdir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/acksell/dirrecord/record"
)

// ErrDuplicateLogin is returned when a create or update would give two records
// the same natural key.
var ErrDuplicateLogin = errors.New("login already taken")

// Key layout, components separated by 0x00:
//
//	user  <id>          JSON object of native fields
//	login <login>       owning id
//	meta  <id> <key>    raw metadata value
//	seq   user          identity sequence
const keySeparator byte = 0x00

var (
	userPrefix  = []byte("user")
	loginPrefix = []byte("login")
	metaPrefix  = []byte("meta")
	seqKey      = []byte("seq\x00user")
)

func joinKey(parts ...[]byte) []byte {
	var key []byte
	for i, p := range parts {
		if i > 0 {
			key = append(key, keySeparator)
		}
		key = append(key, p...)
	}
	return key
}

func userKey(id record.ID) []byte { return joinKey(userPrefix, []byte(id)) }

func loginKey(login string) []byte { return joinKey(loginPrefix, []byte(login)) }

func metaKey(id record.ID, k string) []byte { return joinKey(metaPrefix, []byte(id), []byte(k)) }

// metaRange is the iteration prefix for every metadata row of id.
func metaRange(id record.ID) []byte { return append(joinKey(metaPrefix, []byte(id)), keySeparator) }

// Options configures the badger directory.
type Options struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger for BadgerDB. If nil, badger logging is disabled.
	Logger badger.Logger
	// NaturalKey is the unique native field indexed for lookups.
	NaturalKey string
}

// Store implements record.Store and record.Meta.
type Store struct {
	db         *badger.DB
	seq        *badger.Sequence
	naturalKey string
}

var (
	_ record.Store = (*Store)(nil)
	_ record.Meta  = (*Store)(nil)
)

func Open(opts Options) (*Store, error) {
	if opts.NaturalKey == "" {
		return nil, errors.New("natural key is required")
	}
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	badgerOpts = badgerOpts.WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	seq, err := db.GetSequence(seqKey, 64)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open identity sequence: %w", err)
	}
	return &Store{db: db, seq: seq, naturalKey: opts.NaturalKey}, nil
}

// Close releases the unused part of the identity lease and closes the database.
func (s *Store) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

func (s *Store) Create(_ context.Context, fields map[string]any) (record.ID, error) {
	n, err := s.seq.Next()
	if err != nil {
		return "", fmt.Errorf("next identity: %w", err)
	}
	// Sequences start at zero.
	id := record.ID(strconv.FormatUint(n+1, 10))
	rec := make(map[string]any, len(fields))
	for k, v := range fields {
		if v != nil {
			rec[k] = v
		}
	}
	err = s.update(func(txn *badger.Txn) error {
		if login, ok := s.login(rec); ok {
			if err := claimLogin(txn, login, id); err != nil {
				return err
			}
		}
		return putRecord(txn, id, rec)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Update(_ context.Context, id record.ID, fields map[string]any) error {
	return s.merge(id, fields)
}

// UpdateNativeExtra shares the primary write path; badger has no column split.
func (s *Store) UpdateNativeExtra(_ context.Context, id record.ID, fields map[string]any) error {
	return s.merge(id, fields)
}

// merge applies fields to the stored record. Nil values remove the field.
func (s *Store) merge(id record.ID, fields map[string]any) error {
	return s.update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		oldLogin, hadLogin := s.login(rec)
		for k, v := range fields {
			if v == nil {
				delete(rec, k)
				continue
			}
			rec[k] = v
		}
		newLogin, hasLogin := s.login(rec)
		if hadLogin != hasLogin || oldLogin != newLogin {
			if hadLogin {
				if err := txn.Delete(loginKey(oldLogin)); err != nil {
					return err
				}
			}
			if hasLogin {
				if err := claimLogin(txn, newLogin, id); err != nil {
					return err
				}
			}
		}
		return putRecord(txn, id, rec)
	})
}

// conflictRetries bounds how often a record write is replayed after losing an
// optimistic conflict. A replay re-reads the login index, so a login claimed by
// the winning transaction surfaces as ErrDuplicateLogin.
const conflictRetries = 3

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		if err = s.db.Update(fn); !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) FetchByIdentity(_ context.Context, id record.ID) (map[string]any, error) {
	var rec map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

func (s *Store) FindByNaturalKey(_ context.Context, value any) (record.ID, bool, error) {
	login, ok := value.(string)
	if !ok {
		return "", false, fmt.Errorf("natural key must be a string, got %T", value)
	}
	var id record.ID
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(loginKey(login))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = record.ID(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *Store) Get(_ context.Context, id record.ID) (map[string]string, error) {
	out := make(map[string]string)
	prefix := metaRange(id)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			if err := item.Value(func(val []byte) error {
				out[key] = string(val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Upsert(_ context.Context, id record.ID, key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(id, key), []byte(value))
	})
}

func (s *Store) Delete(_ context.Context, id record.ID, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(id, key))
	})
}

func (s *Store) login(rec map[string]any) (string, bool) {
	v, ok := rec[s.naturalKey].(string)
	return v, ok && v != ""
}

func claimLogin(txn *badger.Txn, login string, id record.ID) error {
	item, err := txn.Get(loginKey(login))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		var owner string
		if err := item.Value(func(val []byte) error {
			owner = string(val)
			return nil
		}); err != nil {
			return err
		}
		if owner != string(id) {
			return fmt.Errorf("%w: %s", ErrDuplicateLogin, login)
		}
	}
	return txn.Set(loginKey(login), []byte(id))
}

func getRecord(txn *badger.Txn, id record.ID) (map[string]any, error) {
	item, err := txn.Get(userKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, record.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec map[string]any
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	if rec == nil {
		rec = make(map[string]any)
	}
	return rec, nil
}

func putRecord(txn *badger.Txn, id record.ID, rec map[string]any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", id, err)
	}
	return txn.Set(userKey(id), data)
}
