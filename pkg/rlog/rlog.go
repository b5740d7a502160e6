// Package rlog is a thin wrapper over github.com/sirupsen/logrus
// giving this library one process-wide structured logger, with a rank
// field attached once at startup so every log line from a
// multi-process run can be told apart in aggregated output.
package rlog

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Fields is an alias for logrus.Fields, so callers never need to
// import logrus directly just to attach structured fields.
type Fields = logrus.Fields

var (
	mu     sync.RWMutex
	logger = logrus.New()
	rank   = -1
)

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)
}

// SetRank attaches r as the "rank" field on every subsequent log
// line. A library embedded into a multi-process job calls this once,
// as early as possible, so its own diagnostics interleave cleanly with
// every other rank's.
func SetRank(r int) {
	mu.Lock()
	defer mu.Unlock()
	rank = r
}

// SetLevel parses level (logrus's usual names: "debug", "info",
// "warn", "error", ...) and applies it, returning an error for an
// unrecognized name.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(parsed)
	return nil
}

// SetOutput redirects log output, primarily for tests that want to
// assert on emitted lines.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

func entry() *logrus.Entry {
	mu.RLock()
	r := rank
	mu.RUnlock()
	if r < 0 {
		return logrus.NewEntry(logger)
	}
	return logger.WithField("rank", r)
}

// WithFields returns a log entry carrying fields plus the ambient
// rank field, ready for .Debug/.Info/.Warn/.Error/.Fatal.
func WithFields(fields Fields) *logrus.Entry {
	return entry().WithFields(fields)
}

// WithError is a shorthand for WithFields(Fields{"error": err}).
func WithError(err error) *logrus.Entry {
	return entry().WithError(err)
}

func Debugf(format string, args ...any) { entry().Debugf(format, args...) }
func Infof(format string, args ...any)  { entry().Infof(format, args...) }
func Warnf(format string, args ...any)  { entry().Warnf(format, args...) }
func Errorf(format string, args ...any) { entry().Errorf(format, args...) }

func Debug(args ...any) { entry().Debug(args...) }
func Info(args ...any)  { entry().Info(args...) }
func Warn(args ...any)  { entry().Warn(args...) }
func Error(args ...any) { entry().Error(args...) }
