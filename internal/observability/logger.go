package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initialized  bool
)

// InitLogger initializes the global structured logger. Every line
// carries the service name so gateway logs are filterable when
// co-located with the host shell's output.
func InitLogger(level string, pretty bool) {
	if initialized {
		return
	}

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || logLevel == zerolog.NoLevel {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var base zerolog.Logger
	if pretty {
		// Pretty console output for development
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		base = zerolog.New(output)
	} else {
		// JSON output for production
		base = zerolog.New(os.Stdout)
	}

	globalLogger = base.With().
		Timestamp().
		Str("service", "meeting-gateway").
		Logger()
	log.Logger = globalLogger

	initialized = true
}

// GetLogger returns the global logger, initializing defaults first if
// needed.
func GetLogger() zerolog.Logger {
	if !initialized {
		InitLogger("info", false)
	}
	return globalLogger
}
