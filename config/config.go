// Package config loads dirrecord.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/acksell/dirrecord/capability"
)

// FileName is looked up from the working directory towards the filesystem root.
const FileName = "dirrecord.yaml"

// Backends.
const (
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	// Backend selects the directory store. Defaults to badger.
	Backend  string         `yaml:"backend"`
	Badger   BadgerConfig   `yaml:"badger"`
	SQL      SQLConfig      `yaml:"sql"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Users    UsersConfig    `yaml:"users"`
	Log      LogConfig      `yaml:"log"`
}

type BadgerConfig struct {
	// Path is the badger data directory. Ignored when InMemory is set.
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

type SQLConfig struct {
	// DSN is a file path or ":memory:" for sqlite, a connection URL for postgres.
	DSN string `yaml:"dsn"`
}

type DynamoDBConfig struct {
	Region string `yaml:"region"`
	// Endpoint overrides the service endpoint, e.g. http://localhost:8000 for DynamoDB Local.
	Endpoint   string `yaml:"endpoint"`
	UsersTable string `yaml:"usersTable"`
	MetaTable  string `yaml:"metaTable"`
	// Static credentials. Empty means the default AWS credential chain.
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
}

type UsersConfig struct {
	Fillable   []string          `yaml:"fillable"`
	Hidden     []string          `yaml:"hidden"`
	Defaults   map[string]any    `yaml:"defaults"`
	BcryptCost int               `yaml:"bcryptCost"`
	Rules      []capability.Rule `yaml:"rules"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendBadger
	}
	if c.Badger.Path == "" {
		c.Badger.Path = ".dirrecord"
	}
	if c.SQL.DSN == "" && c.Backend == BackendSQLite {
		c.SQL.DSN = "dirrecord.db"
	}
	if c.DynamoDB.UsersTable == "" {
		c.DynamoDB.UsersTable = "users"
	}
	if c.DynamoDB.MetaTable == "" {
		c.DynamoDB.MetaTable = "usermeta"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects unknown backends, log settings and rule engines.
func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendBadger, BackendSQLite, BackendDynamoDB:
	case BackendPostgres:
		if c.SQL.DSN == "" {
			errs = append(errs, errors.New("sql.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	for _, r := range c.Users.Rules {
		if err := capability.ValidateRule(r); err != nil {
			errs = append(errs, fmt.Errorf("users.rules: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Load reads path, or the discovered dirrecord.yaml when path is empty. A
// missing discovered file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = Find()
		if path == "" {
			return Default(), nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Find searches for dirrecord.yaml walking up from the current directory.
func Find() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findFrom(dir)
}

func findFrom(dir string) string {
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
