package logging

import "github.com/sirupsen/logrus"

// logrusSink backs Sink with a *logrus.Entry, the structured logger the
// rest of the ambient stack in this module standardizes on.
type logrusSink struct {
	entry *logrus.Entry
}

// NewLogrus wraps a *logrus.Logger as a Sink. Pass logrus.StandardLogger()
// to use the package-level default.
func NewLogrus(logger *logrus.Logger) Sink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &logrusSink{entry: logrus.NewEntry(logger)}
}

func (s *logrusSink) Debug(msg string, fields Fields) { s.entry.WithFields(logrus.Fields(fields)).Debug(msg) }
func (s *logrusSink) Info(msg string, fields Fields)  { s.entry.WithFields(logrus.Fields(fields)).Info(msg) }
func (s *logrusSink) Warn(msg string, fields Fields)  { s.entry.WithFields(logrus.Fields(fields)).Warn(msg) }
func (s *logrusSink) Error(msg string, fields Fields) { s.entry.WithFields(logrus.Fields(fields)).Error(msg) }

func (s *logrusSink) With(fields Fields) Sink {
	return &logrusSink{entry: s.entry.WithFields(logrus.Fields(fields))}
}
