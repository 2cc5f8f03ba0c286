// Package logging builds the single zerolog.Logger threaded through
// CoreContext into every component. There is no package-level global
// logger here by design — see the anti-singleton guidance this service
// follows for configuration and connection pools alike.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing JSON to w (stdout by default) at
// the given level name ("debug", "info", "warn", "error"; unknown names
// fall back to "info").
func New(levelName string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()
}
