package client

import "log/slog"

// Logger is the sink a Session and TagPoller log to. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func discardLogger() Logger {
	return slog.New(slog.DiscardHandler)
}

// Recorder receives session events for metrics.
type Recorder interface {
	StateChanged(state State)
	SampleDecoded(stream string)
	MalformedSample()
	AckMismatch(command string)
	Timeout()
	ConnectionLost()
	Reconnected()
}

type nopRecorder struct{}

func (nopRecorder) StateChanged(State)   {}
func (nopRecorder) SampleDecoded(string) {}
func (nopRecorder) MalformedSample()     {}
func (nopRecorder) AckMismatch(string)   {}
func (nopRecorder) Timeout()             {}
func (nopRecorder) ConnectionLost()      {}
func (nopRecorder) Reconnected()         {}
