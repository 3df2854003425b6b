// Package dirrecord opens a user directory from configuration: a backend store,
// the user repository over it, and an authentication provider.
//
//	cfg, err := config.Load("")
//	dir, err := dirrecord.Open(ctx, cfg, dirrecord.WithLogger(logger))
//	defer dir.Close()
//
//	u, saved, err := dir.Users.Register(ctx, native, attrs)
package dirrecord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acksell/dirrecord/auth"
	"github.com/acksell/dirrecord/badgerdir"
	"github.com/acksell/dirrecord/config"
	"github.com/acksell/dirrecord/dynamodb/ddbdir"
	"github.com/acksell/dirrecord/metrics"
	"github.com/acksell/dirrecord/record"
	"github.com/acksell/dirrecord/sqldir"
	"github.com/acksell/dirrecord/users"
)

// Directory is an open user directory.
type Directory struct {
	Users *users.Repository
	Auth  *auth.Provider

	backend string
	close   func() error
	tables  func(context.Context, time.Duration) error
}

type Option func(*options)

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	dispatcher record.Dispatcher
	dynamo     ddbdir.Client
}

// WithLogger logs repository and backend activity to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers save metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDispatcher receives the user lifecycle events.
func WithDispatcher(d record.Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithDynamoDBClient replaces the client built from the dynamodb config section.
func WithDynamoDBClient(c ddbdir.Client) Option {
	return func(o *options) { o.dynamo = c }
}

// Open builds the configured backend and boots the user type on it.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Directory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Directory{backend: cfg.Backend, close: func() error { return nil }}
	var (
		store record.Store
		meta  record.Meta
	)
	switch cfg.Backend {
	case config.BackendBadger:
		s, err := badgerdir.Open(badgerdir.Options{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			Logger:     badgerdir.Logger(o.logger),
			NaturalKey: users.FieldLogin,
		})
		if err != nil {
			return nil, err
		}
		store, meta, d.close = s, s, s.Close

	case config.BackendSQLite, config.BackendPostgres:
		sqlOpts := sqldir.Options{
			IDColumn:   users.FieldID,
			NaturalKey: users.FieldLogin,
			Columns:    slices.DeleteFunc(slices.Clone(users.NativeFields), func(f string) bool { return f == users.FieldID }),
		}
		openSQL := sqldir.OpenSQLite
		if cfg.Backend == config.BackendPostgres {
			openSQL = sqldir.OpenPostgres
		}
		s, err := openSQL(ctx, cfg.SQL.DSN, sqlOpts)
		if err != nil {
			return nil, err
		}
		store, meta, d.close = s, s, s.Close

	case config.BackendDynamoDB:
		client := o.dynamo
		if client == nil {
			c, err := newDynamoClient(ctx, cfg.DynamoDB)
			if err != nil {
				return nil, err
			}
			client = c
		}
		s, err := ddbdir.New(client, ddbdir.Options{
			UsersTable: cfg.DynamoDB.UsersTable,
			MetaTable:  cfg.DynamoDB.MetaTable,
			NaturalKey: users.FieldLogin,
		})
		if err != nil {
			return nil, err
		}
		store, meta, d.tables = s, s, s.CreateTables
	}

	repoOpts := []record.Option{record.WithLogger(o.logger)}
	if o.registerer != nil {
		rec, err := metrics.NewRecorder(o.registerer)
		if err != nil {
			_ = d.close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		repoOpts = append(repoOpts, record.WithMetrics(rec))
	}
	if o.dispatcher != nil {
		repoOpts = append(repoOpts, record.WithDispatcher(o.dispatcher))
	}

	typ, err := userType(cfg.Users)
	if err != nil {
		_ = d.close()
		return nil, err
	}
	d.Users = users.NewRepository(typ, store, meta, repoOpts...)
	if err := d.Users.Boot(ctx); err != nil {
		_ = d.close()
		return nil, err
	}
	d.Auth = auth.NewProvider(d.Users)
	o.logger.Debug("directory opened", "backend", cfg.Backend)
	return d, nil
}

// Backend names the store the directory was opened on.
func (d *Directory) Backend() string { return d.backend }

// CreateTables provisions the DynamoDB tables, waiting up to maxWait for them
// to become active. Other backends create their storage on Open, so it is a
// no-op for them.
func (d *Directory) CreateTables(ctx context.Context, maxWait time.Duration) error {
	if d.tables == nil {
		return nil
	}
	return d.tables(ctx, maxWait)
}

func (d *Directory) Close() error {
	return d.close()
}

// ErrUsersConfigChanged is returned by Open when the users section differs from
// the one the process first opened a directory with.
var ErrUsersConfigChanged = errors.New("users config differs from the one already in use")

var (
	userTypeMu  sync.Mutex
	sharedType  *record.Type
	sharedUsers config.UsersConfig
)

// userType builds the user type from the first configuration opened in the
// process. Type boot state is process-wide, so later directories must carry
// the same users section.
func userType(c config.UsersConfig) (*record.Type, error) {
	userTypeMu.Lock()
	defer userTypeMu.Unlock()
	if sharedType != nil {
		if !reflect.DeepEqual(sharedUsers, c) {
			return nil, ErrUsersConfigChanged
		}
		return sharedType, nil
	}
	sharedType = users.NewType(users.Options{
		Fillable:   c.Fillable,
		Hidden:     c.Hidden,
		Defaults:   c.Defaults,
		BcryptCost: c.BcryptCost,
		Rules:      c.Rules,
	})
	sharedUsers = c
	return sharedType, nil
}

func newDynamoClient(ctx context.Context, c config.DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}
