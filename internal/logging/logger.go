// Package logging builds the charmbracelet logger used by the pipeline.
// Level, prefix and file output come from BLOCKGRAPH_LOG_* variables.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const defaultPrefix = "blockgraph "

// Settings is the logger configuration read from the environment.
type Settings struct {
	Level  log.Level // BLOCKGRAPH_LOG_LEVEL
	Prefix string    // BLOCKGRAPH_LOG_PREFIX
	ToFile bool      // BLOCKGRAPH_LOG_TO_FILE=1
}

// SettingsFromEnv reads Settings through lookup, usually os.LookupEnv.
func SettingsFromEnv(lookup func(string) (string, bool)) Settings {
	s := Settings{Level: log.InfoLevel, Prefix: defaultPrefix}
	if v, ok := lookup("BLOCKGRAPH_LOG_LEVEL"); ok {
		s.Level = ParseLevel(v)
	}
	if v, ok := lookup("BLOCKGRAPH_LOG_PREFIX"); ok && v != "" {
		s.Prefix = v
	}
	if v, ok := lookup("BLOCKGRAPH_LOG_TO_FILE"); ok && v == "1" {
		s.ToFile = true
	}
	return s
}

// ParseLevel maps a level name to a log level; unknown names mean info.
func ParseLevel(name string) log.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// LoggerCloser is a logger that may own its output file.
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close releases the output file, if the logger opened one.
func (lc *LoggerCloser) Close() error {
	if lc.closer == nil {
		return nil
	}
	err := lc.closer.Close()
	lc.closer = nil
	return err
}

// New returns a logger writing to w with settings s. The caller keeps
// ownership of w.
func (s Settings) New(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Level:           s.Level,
		Prefix:          s.Prefix,
	})
	return &LoggerCloser{Logger: lg}
}

// Open returns a logger on stderr, or on a timestamped file in the working
// directory when ToFile is set and the file can be created. Close releases
// the file.
func (s Settings) Open() *LoggerCloser {
	if s.ToFile {
		name := fmt.Sprintf("blockgraph-%s-debug.log", time.Now().Format("20060102-150405"))
		if f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644); err == nil {
			lc := s.New(f)
			lc.closer = f
			return lc
		}
	}
	return s.New(os.Stderr)
}

// NewLoggerWithWriter returns an environment-configured logger writing to w.
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	return SettingsFromEnv(os.LookupEnv).New(w)
}

// NewLogger returns an environment-configured logger. Callers must Close it.
func NewLogger() *LoggerCloser {
	return SettingsFromEnv(os.LookupEnv).Open()
}

// IsDebug reports whether BLOCKGRAPH_LOG_LEVEL selects debug output.
func IsDebug() bool {
	return SettingsFromEnv(os.LookupEnv).Level == log.DebugLevel
}
