package docchat

import (
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger is the structured logger used for debug output. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// DebugConfig selects which debug logs are emitted.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogStream    bool
	LogCancel    bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config with every category on.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogStream:    true,
		LogCancel:    true,
		RequestIDGen: DefaultRequestIDGen,
	}
}

// DefaultRequestIDGen returns a random UUID.
func DefaultRequestIDGen() string {
	return uuid.NewString()
}

// NewSimpleLogger returns a text slog logger writing to stderr at debug level.
func NewSimpleLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
