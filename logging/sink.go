// Package logging gives the transport, transaction, and server packages a
// structured logging sink they call without depending on a concrete
// implementation. The zero-dependency no-op sink keeps the core usable
// without any logging backend configured.
package logging

// Fields attaches structured key-value context to a log line.
type Fields map[string]interface{}

// Sink is the logging contract every package in this module calls
// through. A nil Sink is never passed around; use NewNoop() where no
// logging is wanted.
type Sink interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)

	// With returns a Sink that merges fields into every subsequent call,
	// the way logrus.Entry.WithFields does.
	With(fields Fields) Sink
}
