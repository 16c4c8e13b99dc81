// Package logging builds the *logrus.Logger every engine component takes as
// a constructor argument, so level and format are configured in one place
// instead of each cmd/ entry point hand-rolling a logrus setup.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger writing to stderr with the given level and
// format ("json" or "text"; anything else defaults to json).
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(ParseLevel(level))

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// ParseLevel converts a config string to a logrus.Level, defaulting to Info
// for anything unrecognized rather than failing startup over a typo'd level.
func ParseLevel(levelStr string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithComponent returns a child logger tagged with the owning pipeline
// component (e.g. "source", "batcher", "sink"), so log aggregation can
// filter by stage.
func WithComponent(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
