package logging

type noopSink struct{}

// NewNoop returns a Sink that discards everything, for callers that
// construct a transport or server without configuring logging.
func NewNoop() Sink { return noopSink{} }

func (noopSink) Debug(string, Fields) {}
func (noopSink) Info(string, Fields)  {}
func (noopSink) Warn(string, Fields)  {}
func (noopSink) Error(string, Fields) {}
func (noopSink) With(Fields) Sink     { return noopSink{} }
