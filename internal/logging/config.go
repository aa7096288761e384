package logging

import (
	"fmt"
	"io"
	"time"

	"github.com/fyrsmithlabs/ragkb/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration. Operators only choose Level and
// Format (see FromSettings); everything else is fixed by the process.
type Config struct {
	Level  zapcore.Level
	Format string
	Output OutputConfig

	// Caller annotates entries with the calling file and line.
	Caller bool

	// StacktraceLevel is the lowest level that records a stack trace.
	// Nil disables stack traces.
	StacktraceLevel *zapcore.Level

	Sampling  SamplingConfig
	Redaction RedactionConfig

	// Service is written as the "service" field of every entry.
	Service string
}

// OutputConfig controls where logs are written.
//
// Console output goes to Writer, or stderr when Writer is nil, so command
// output on stdout stays clean.
type OutputConfig struct {
	Console bool
	OTEL    bool
	Writer  io.Writer
}

// SamplingConfig thins repeated entries per level within each Tick. Error
// and above are never sampled.
type SamplingConfig struct {
	Enabled bool
	Tick    time.Duration
	Levels  map[zapcore.Level]LevelRate
}

// LevelRate keeps the first Initial entries of a message per tick, then
// every Thereafter-th. Zero Thereafter drops the rest.
type LevelRate struct {
	Initial    int
	Thereafter int
}

// RedactionConfig lists field names and value patterns to mask.
type RedactionConfig struct {
	Enabled  bool
	Fields   []string
	Patterns []string
}

// NewDefaultConfig returns JSON output to stderr at info level with
// sampling and redaction on.
func NewDefaultConfig() *Config {
	stacktrace := zapcore.ErrorLevel
	return &Config{
		Level:           zapcore.InfoLevel,
		Format:          "json",
		Output:          OutputConfig{Console: true},
		Caller:          true,
		StacktraceLevel: &stacktrace,
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    time.Second,
			Levels: map[zapcore.Level]LevelRate{
				TraceLevel:         {Initial: 1},
				zapcore.DebugLevel: {Initial: 10},
				zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
				zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
			},
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields:  []string{"api_key", "authorization", "password", "secret", "token"},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`sk-[A-Za-z0-9_-]{16,}`,
			},
		},
		Service: "ragkb",
	}
}

// FromSettings derives a logger config from the operator-facing settings.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		lvl, err := LevelFromString(s.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", s.Level, err)
		}
		cfg.Level = lvl
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	return cfg, cfg.Validate()
}

// Validate checks config for errors. Redaction patterns are checked when
// the encoder is built.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Console && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (console or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	return nil
}
