package util

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ContextualError carries an error together with the structured fields that
// describe where it happened, so callers up the stack can log it with full
// context without re-deriving the fields.
type ContextualError struct {
	RealError error
	Fields    map[string]any
	Context   string
}

func NewContextualError(msg string, fields map[string]any, realError error) *ContextualError {
	return &ContextualError{Context: msg, Fields: fields, RealError: realError}
}

func (ce *ContextualError) Error() string {
	if ce.RealError == nil {
		return ce.Context
	}
	return fmt.Errorf("%s (%v): %w", ce.Context, ce.Fields, ce.RealError).Error()
}

func (ce *ContextualError) Unwrap() error {
	if ce.RealError == nil {
		return errors.New(ce.Context)
	}
	return ce.RealError
}

// Log writes the error through the given logger with its fields attached.
func (ce *ContextualError) Log(l *logrus.Logger) {
	if ce.RealError != nil {
		l.WithFields(ce.Fields).WithError(ce.RealError).Error(ce.Context)
	} else {
		l.WithFields(ce.Fields).Error(ce.Context)
	}
}

// LogWithContextIfNeeded logs err as a [ContextualError] when it is one and
// as a plain error line otherwise.
func LogWithContextIfNeeded(msg string, err error, l *logrus.Logger) {
	var ce *ContextualError
	if errors.As(err, &ce) {
		ce.Log(l)
		return
	}
	l.WithError(err).Error(msg)
}
