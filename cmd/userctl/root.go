package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/acksell/dirrecord"
	"github.com/acksell/dirrecord/config"
	"github.com/acksell/dirrecord/record"
)

var (
	// Global flags
	configPath  string
	backend     string
	dbPath      string
	memory      bool
	jsonOut     bool
	verbose     bool
	showMetrics bool
)

// Output streams, swapped by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var rootCmd = &cobra.Command{
	Use:   "userctl",
	Short: "Manage users in a dirrecord directory",
	Long: `userctl creates, inspects and edits directory users. Native fields and
metadata are addressed alike; the directory decides where each one is stored.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to dirrecord.yaml (default: discovered)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Override the configured backend (badger, sqlite, postgres, dynamodb)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Badger directory or SQL DSN")
	rootCmd.PersistentFlags().BoolVar(&memory, "memory", false, "Use an in-memory badger directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "Print save metrics after the command")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", describe(err))
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if memory {
		cfg.Backend = config.BackendBadger
		cfg.Badger.InMemory = true
	}
	if dbPath != "" {
		switch cfg.Backend {
		case config.BackendBadger:
			cfg.Badger.Path = dbPath
		case config.BackendSQLite, config.BackendPostgres:
			cfg.SQL.DSN = dbPath
		}
	}
	if cfg.Backend == config.BackendSQLite && cfg.SQL.DSN == "" {
		cfg.SQL.DSN = "dirrecord.db"
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, cfg.Validate()
}

func newLogger(c config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Level))
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// withDirectory opens the configured directory, runs fn and closes it again.
func withDirectory(ctx context.Context, fn func(*dirrecord.Directory) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts := []dirrecord.Option{dirrecord.WithLogger(newLogger(cfg.Log, stderr))}
	var reg *prometheus.Registry
	if showMetrics {
		reg = prometheus.NewRegistry()
		opts = append(opts, dirrecord.WithMetrics(reg))
	}
	dir, err := dirrecord.Open(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	err = fn(dir)
	if cerr := dir.Close(); err == nil {
		err = cerr
	}
	if err == nil && reg != nil {
		err = printMetrics(reg)
	}
	return err
}

// findUser resolves a login, or an identity when byID is set.
func findUser(ctx context.Context, dir *dirrecord.Directory, ref string, byID bool) (*record.Entity, error) {
	if byID {
		return dir.Users.Find(ctx, record.ID(ref))
	}
	return dir.Users.FindByLogin(ctx, ref)
}

// parseAssignments turns key=value arguments into attributes.
func parseAssignments(args []string) (map[string]any, error) {
	attrs := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		attrs[k] = v
	}
	return attrs, nil
}

// describe rewrites record errors into operator-facing messages.
func describe(err error) string {
	var (
		mass     *record.MassAssignmentError
		conflict *record.ConflictError
		notFound *record.NotFoundError
		persist  *record.PersistenceError
		event    *record.EventError
	)
	switch {
	case errors.As(err, &mass):
		return fmt.Sprintf("%q is not fillable; add it to users.fillable or use set", mass.Key)
	case errors.As(err, &conflict):
		return fmt.Sprintf("%s %v is taken by user %s", conflict.Field, conflict.Value, conflict.ConflictingID)
	case errors.As(err, &notFound), errors.Is(err, record.ErrRecordNotFound):
		return "user not found"
	case errors.As(err, &persist) && persist.Channel == record.ChannelMeta:
		return fmt.Sprintf("saved, but metadata keys %s failed: %v", strings.Join(persist.FailedKeys, ", "), persist.Err)
	case errors.As(err, &event):
		return fmt.Sprintf("%s listener failed: %v", event.Event, event.Err)
	}
	return err.Error()
}

// errVetoed reports a save a listener declined. The reason is logged at info level.
var errVetoed = errors.New("save vetoed by a listener")

// report prints the user, or only its identity and action in text mode.
func report(action string, u *record.Entity) error {
	if jsonOut {
		return printJSON(u)
	}
	fmt.Fprintf(stdout, "%s user %s\n", action, u.ID())
	return nil
}

func printUser(u *record.Entity) error {
	if jsonOut {
		return printJSON(u)
	}
	attrs := u.ToMap()
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(stdout, "%s: %v\n", k, attrs[k])
	}
	return nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printMetrics(g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			series := f.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch f.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Fprintf(stderr, "%s %g\n", series, m.GetCounter().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				fmt.Fprintf(stderr, "%s count=%d sum=%gs\n", series, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
