package util

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a logger for tests. Output is discarded unless the
// TEST_LOGS environment variable is set; higher values raise the verbosity.
func NewTestLogger() *logrus.Logger {
	l := logrus.New()

	v := os.Getenv("TEST_LOGS")
	if v == "" {
		l.SetOutput(io.Discard)
		return l
	}

	switch v {
	case "2":
		l.SetLevel(logrus.DebugLevel)
	case "3":
		l.SetLevel(logrus.TraceLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}

	return l
}
