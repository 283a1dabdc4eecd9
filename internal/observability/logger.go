package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevelEnv overrides the level passed to InitLogger
const LogLevelEnv = "REFSPACE_LOG_LEVEL"

// InitLogger installs a console logger as log.Logger and returns it.
func InitLogger(app, level string) zerolog.Logger {
	return initLogger(os.Stderr, app, level)
}

func initLogger(out io.Writer, app, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	if env := os.Getenv(LogLevelEnv); env != "" {
		level = env
	}
	logger := zerolog.New(output).Level(ParseLevel(level)).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "disabled", "off", "none":
		return zerolog.Disabled
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}
