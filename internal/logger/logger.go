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

// Init sets the global zerolog level and output. pretty selects the
// human-readable console writer, otherwise logs are JSON lines.
func Init(level string, pretty bool) error {
	return InitWithWriter(level, pretty, os.Stdout)
}

func InitWithWriter(level string, pretty bool, out io.Writer) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "02-01-2006 15:04:05.000"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "plant-disease-api").Logger()
	return nil
}

func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "INFO", "":
		return zerolog.InfoLevel, nil
	case "WARN", "WARNING":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "FATAL":
		return zerolog.FatalLevel, nil
	case "DISABLED":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("incorrect log level %s", level)
	}
}

// IsDebug reports whether level parses to debug. It accepts the same
// spellings as ParseLevel.
func IsDebug(level string) bool {
	parsed, err := ParseLevel(level)
	return err == nil && parsed == zerolog.DebugLevel
}
