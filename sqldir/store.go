// Package sqldir is a directory on a relational database: one fixed-column users
// table and a key/value usermeta table. SQLite (modernc) and Postgres (pgx) are
// supported through database/sql.
package sqldir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/acksell/dirrecord/record"
)

// ErrDuplicateLogin is returned when a write would give two rows the same natural key.
var ErrDuplicateLogin = errors.New("login already taken")

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) driver() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) identityDDL() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// Options describes the table layout.
type Options struct {
	UsersTable string
	MetaTable  string
	IDColumn   string
	NaturalKey string
	// Columns are the native columns besides IDColumn. All are TEXT.
	Columns []string
}

func (o *Options) applyDefaults() {
	if o.UsersTable == "" {
		o.UsersTable = "users"
	}
	if o.MetaTable == "" {
		o.MetaTable = "usermeta"
	}
	if o.IDColumn == "" {
		o.IDColumn = "ID"
	}
}

// Store implements record.Store and record.Meta.
type Store struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
	columns map[string]struct{}
}

var (
	_ record.Store = (*Store)(nil)
	_ record.Meta  = (*Store)(nil)
)

// OpenSQLite opens (or creates) a SQLite database file. ":memory:" keeps it in
// memory for the life of the store.
func OpenSQLite(ctx context.Context, path string, opts Options) (*Store, error) {
	if path == "" {
		path = "dirrecord.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open(SQLite.driver(), path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	return open(ctx, db, SQLite, opts)
}

// OpenPostgres connects with pgx.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open(Postgres.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(ctx, db, Postgres, opts)
}

func open(ctx context.Context, db *sql.DB, d Dialect, opts Options) (*Store, error) {
	opts.applyDefaults()
	if opts.NaturalKey == "" {
		_ = db.Close()
		return nil, errors.New("natural key is required")
	}
	s := &Store{db: db, dialect: d, opts: opts, columns: make(map[string]struct{})}
	for _, c := range opts.Columns {
		if c != opts.IDColumn {
			s.columns[c] = struct{}{}
		}
	}
	if _, ok := s.columns[opts.NaturalKey]; !ok {
		_ = db.Close()
		return nil, fmt.Errorf("natural key %s is not a column", opts.NaturalKey)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate(ctx context.Context) error {
	cols := []string{quote(s.opts.IDColumn) + " " + s.dialect.identityDDL()}
	for _, c := range s.opts.Columns {
		if c == s.opts.IDColumn {
			continue
		}
		def := quote(c) + " TEXT"
		if c == s.opts.NaturalKey {
			def += " UNIQUE"
		}
		cols = append(cols, def)
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(s.opts.UsersTable), strings.Join(cols, ",\n\t")),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	umeta_id %s,
	user_id TEXT NOT NULL,
	meta_key TEXT NOT NULL,
	meta_value TEXT,
	UNIQUE (user_id, meta_key)
)`, quote(s.opts.MetaTable), s.dialect.identityDDL()),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Create(ctx context.Context, fields map[string]any) (id record.ID, retErr error) {
	names, err := s.columnNames(fields)
	if err != nil {
		return "", err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := s.checkLogin(ctx, tx, fields, ""); err != nil {
		return "", err
	}

	var query string
	args := make([]any, 0, len(names))
	if len(names) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", quote(s.opts.UsersTable), quote(s.opts.IDColumn))
	} else {
		quoted := make([]string, len(names))
		marks := make([]string, len(names))
		for i, n := range names {
			quoted[i] = quote(n)
			marks[i] = s.dialect.placeholder(i + 1)
			args = append(args, fields[n])
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			quote(s.opts.UsersTable), strings.Join(quoted, ","), strings.Join(marks, ","), quote(s.opts.IDColumn))
	}
	var n int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return record.ID(strconv.FormatInt(n, 10)), nil
}

func (s *Store) Update(ctx context.Context, id record.ID, fields map[string]any) error {
	return s.update(ctx, id, fields)
}

// UpdateNativeExtra writes to the same row; the columns differ only by caller convention.
func (s *Store) UpdateNativeExtra(ctx context.Context, id record.ID, fields map[string]any) error {
	return s.update(ctx, id, fields)
}

func (s *Store) update(ctx context.Context, id record.ID, fields map[string]any) (retErr error) {
	names, err := s.columnNames(fields)
	if err != nil || len(names) == 0 {
		return err
	}
	rowID, err := parseID(id)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := s.checkLogin(ctx, tx, fields, id); err != nil {
		return err
	}
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, n := range names {
		sets[i] = quote(n) + " = " + s.dialect.placeholder(i+1)
		args = append(args, fields[n])
	}
	args = append(args, rowID)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quote(s.opts.UsersTable), strings.Join(sets, ", "), quote(s.opts.IDColumn), s.dialect.placeholder(len(args)))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return record.ErrRecordNotFound
	}
	return tx.Commit()
}

func (s *Store) FetchByIdentity(ctx context.Context, id record.ID) (map[string]any, error) {
	rowID, err := parseID(id)
	if err != nil {
		return nil, record.ErrRecordNotFound
	}
	cols := s.dataColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(quoted, ","), quote(s.opts.UsersTable), quote(s.opts.IDColumn), s.dialect.placeholder(1))
	vals := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	err = s.db.QueryRowContext(ctx, query, rowID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, record.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user %s: %w", id, err)
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		if vals[i].Valid {
			out[c] = vals[i].String
		} else {
			out[c] = nil
		}
	}
	return out, nil
}

func (s *Store) FindByNaturalKey(ctx context.Context, value any) (record.ID, bool, error) {
	return s.findLogin(ctx, s.db, value)
}

func (s *Store) Get(ctx context.Context, id record.ID) (map[string]string, error) {
	query := fmt.Sprintf("SELECT meta_key, meta_value FROM %s WHERE user_id = %s",
		quote(s.opts.MetaTable), s.dialect.placeholder(1))
	rows, err := s.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("select meta: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]string)
	for rows.Next() {
		var (
			key string
			val sql.NullString
		)
		if err := rows.Scan(&key, &val); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		out[key] = val.String
	}
	return out, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, id record.ID, key, value string) error {
	p := s.dialect.placeholder
	query := fmt.Sprintf(`INSERT INTO %s (user_id, meta_key, meta_value) VALUES (%s, %s, %s)
ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = excluded.meta_value`,
		quote(s.opts.MetaTable), p(1), p(2), p(3))
	if _, err := s.db.ExecContext(ctx, query, string(id), key, value); err != nil {
		return fmt.Errorf("upsert meta %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id record.ID, key string) error {
	p := s.dialect.placeholder
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = %s AND meta_key = %s", quote(s.opts.MetaTable), p(1), p(2))
	if _, err := s.db.ExecContext(ctx, query, string(id), key); err != nil {
		return fmt.Errorf("delete meta %s: %w", key, err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) findLogin(ctx context.Context, q queryer, value any) (record.ID, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		quote(s.opts.IDColumn), quote(s.opts.UsersTable), quote(s.opts.NaturalKey), s.dialect.placeholder(1))
	var n int64
	err := q.QueryRowContext(ctx, query, value).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find by %s: %w", s.opts.NaturalKey, err)
	}
	return record.ID(strconv.FormatInt(n, 10)), true, nil
}

// checkLogin fails with ErrDuplicateLogin when fields claim a login owned by
// another row. The UNIQUE constraint backs this up under concurrency.
func (s *Store) checkLogin(ctx context.Context, tx *sql.Tx, fields map[string]any, self record.ID) error {
	login, ok := fields[s.opts.NaturalKey]
	if !ok || login == nil {
		return nil
	}
	owner, found, err := s.findLogin(ctx, tx, login)
	if err != nil {
		return err
	}
	if found && owner != self {
		return fmt.Errorf("%w: %v", ErrDuplicateLogin, login)
	}
	return nil
}

func (s *Store) columnNames(fields map[string]any) ([]string, error) {
	names := make([]string, 0, len(fields))
	for _, c := range s.opts.Columns {
		if _, ok := fields[c]; ok && c != s.opts.IDColumn {
			names = append(names, c)
		}
	}
	if len(names) != len(fields) {
		for k := range fields {
			if _, ok := s.columns[k]; !ok {
				return nil, fmt.Errorf("unknown column %q", k)
			}
		}
	}
	return names, nil
}

// dataColumns lists the native columns in declaration order, without the identity.
func (s *Store) dataColumns() []string {
	out := make([]string, 0, len(s.opts.Columns))
	for _, c := range s.opts.Columns {
		if c != s.opts.IDColumn {
			out = append(out, c)
		}
	}
	return out
}

func parseID(id record.ID) (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid identity %q: %w", id, err)
	}
	return n, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
