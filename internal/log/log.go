// Package log builds the slog handler used by every command.
// Output is rendered by charmbracelet/log in text, logfmt or JSON form.
package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

const (
	FormatText   = "text"
	FormatLogfmt = "logfmt"
	FormatJSON   = "json"
)

var (
	ErrInvalidLevel  = errors.New("invalid log level")
	ErrInvalidFormat = errors.New("invalid log format")
)

// GetLevel parses a level name. "warning" and "trace" are accepted aliases.
func GetLevel(level string) (charmlog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "warning":
		return charmlog.WarnLevel, nil
	case "trace":
		return charmlog.DebugLevel, nil
	}

	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return charmlog.InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	return lvl, nil
}

// GetFormatter maps a format name to a charmbracelet formatter.
func GetFormatter(format string) (charmlog.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatText, "":
		return charmlog.TextFormatter, nil
	case FormatLogfmt:
		return charmlog.LogfmtFormatter, nil
	case FormatJSON:
		return charmlog.JSONFormatter, nil
	default:
		return charmlog.TextFormatter, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

// CreateHandler creates a [slog.Handler] writing to w.
func CreateHandler(w io.Writer, level, format string) (slog.Handler, error) {
	lvl, err := GetLevel(level)
	if err != nil {
		return nil, err
	}
	formatter, err := GetFormatter(format)
	if err != nil {
		return nil, err
	}

	return charmlog.NewWithOptions(w, charmlog.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: formatter != charmlog.TextFormatter,
		TimeFormat:      time.RFC3339,
	}), nil
}
