package record

import "time"

// Logger is the structured logger used by repositories. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Save outcomes reported to MetricsRecorder.
const (
	OutcomeSaved  = "saved"
	OutcomeVetoed = "vetoed"
	OutcomeError  = "error"
)

// MetricsRecorder receives save timings and metadata-channel failures.
type MetricsRecorder interface {
	// ObserveSave is called once per Save; op is "create" or "update".
	ObserveSave(typeName, op, outcome string, d time.Duration)
	MetadataFailure(typeName, key string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSave(string, string, string, time.Duration) {}
func (noopMetrics) MetadataFailure(string, string)                    {}
