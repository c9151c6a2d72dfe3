// Package vcslog is a small leveled-logging wrapper around logrus.
//
// All user-facing diagnostic text goes through this package rather than
// raw fmt.Fprintln(os.Stderr, ...), since stdout is reserved entirely
// for the remote-helper line protocol.
package vcslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Verbosity mirrors the driver's "option verbosity N" levels (spec §3, §4.G).
type Verbosity int

const (
	Error Verbosity = 0
	Info  Verbosity = 1
	Debug Verbosity = 2
)

var logger = newDefaultLogger()

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// SetVerbosity adjusts the effective log level to match the driver's
// negotiated verbosity (§4.G "option verbosity N").
func SetVerbosity(v Verbosity) {
	switch {
	case v <= Error:
		logger.SetLevel(logrus.ErrorLevel)
	case v == Info:
		logger.SetLevel(logrus.InfoLevel)
	default:
		logger.SetLevel(logrus.DebugLevel)
	}
}

func Errorf(format string, args ...any) { logger.Errorf(format, args...) }
func Infof(format string, args ...any)  { logger.Infof(format, args...) }
func Debugf(format string, args ...any) { logger.Debugf(format, args...) }
