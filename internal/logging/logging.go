// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Build struct {
	writer io.Writer
	level  zerolog.Level
	format string
}

func New() *Build {
	return &Build{writer: os.Stderr, level: zerolog.InfoLevel, format: "json"}
}

// FromWriter sends output to w instead of stderr.
func (b *Build) FromWriter(w io.Writer) *Build {
	b.writer = w
	return b
}

// Level parses a level name. Unknown or empty names keep the current level.
func (b *Build) Level(name string) *Build {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name))); err == nil && name != "" {
		b.level = lvl
	}
	return b
}

// Format selects "json" or "console" output.
func (b *Build) Format(name string) *Build {
	b.format = strings.ToLower(strings.TrimSpace(name))
	return b
}

func (b *Build) Make() zerolog.Logger {
	w := b.writer
	if b.format == "console" {
		w = zerolog.ConsoleWriter{Out: b.writer, TimeFormat: time.RFC3339, NoColor: true}
	}
	return zerolog.New(w).Level(b.level).With().Timestamp().Logger()
}
