// Package log wraps zerolog with the process-wide logger every haystack
// component shares. Init is the one documented construction point; nothing
// else in the module touches the global before Init has run.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a recognized log level string.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config configures the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init sets up the global logger. Call once, early in main.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// Sane default so packages that log before main's Init runs (tests,
	// library callers) don't panic on a zero-value logger.
	Init(Config{Level: InfoLevel})
}

// WithComponent returns a child logger tagged with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithStoreID returns a child logger tagged with a store_id field.
func WithStoreID(storeID string) zerolog.Logger {
	return Logger.With().Str("store_id", storeID).Logger()
}

// WithPhotoID returns a child logger tagged with a photo_id field.
func WithPhotoID(photoID uint64) zerolog.Logger {
	return Logger.With().Uint64("photo_id", photoID).Logger()
}
