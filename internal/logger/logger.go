package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is usable before Init so early startup failures are still logged.
var Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Config controls the global logger. Zero values mean info-level console
// output to stdout.
type Config struct {
	Level    string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format   string `yaml:"format" envconfig:"LOG_FORMAT"` // console or json
	Output   string `yaml:"output" envconfig:"LOG_OUTPUT"` // stdout, stderr or file
	FilePath string `yaml:"file_path" envconfig:"LOG_FILE_PATH"`
}

// Init initializes the global logger with the provided configuration.
func Init(config Config) error {
	if config.Level == "" {
		config.Level = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", config.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer
	switch strings.ToLower(config.Output) {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		file, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("failed to open log file '%s': %w", config.FilePath, err)
		}
		output = file
	default:
		output = os.Stdout
	}

	if config.Format == "" || strings.ToLower(config.Format) == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).With().
		Timestamp().
		Caller().
		Logger()

	// Keep the package-global zerolog logger in sync for libraries that use it.
	log.Logger = Logger

	return nil
}

// Convenience wrappers over the global logger.
func Info() *zerolog.Event  { return Logger.Info() }
func Debug() *zerolog.Event { return Logger.Debug() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }
func Fatal() *zerolog.Event { return Logger.Fatal() }
