package progress

import "time"

// Sink accepts progress events. Implementations must not block the caller for
// long and must never fail the job: delivery is best-effort.
type Sink interface {
	Emit(evt Event)
}

// Reporter is the callback capability handed to pipeline collaborators.
type Reporter interface {
	Report(update Update)
}

// Sender delivers a message to one connection identifier. It reports whether
// the message was handed to an open connection.
type Sender interface {
	SendTo(id string, msg any) bool
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// ConnectionSink forwards events to a single client connection.
type ConnectionSink struct {
	sender   Sender
	clientID string
}

// NewConnectionSink binds a sink to clientID. An empty clientID or nil sender
// yields a sink that drops everything.
func NewConnectionSink(sender Sender, clientID string) Sink {
	if sender == nil || clientID == "" {
		return NopSink{}
	}
	return &ConnectionSink{sender: sender, clientID: clientID}
}

// Emit implements Sink.
func (s *ConnectionSink) Emit(evt Event) {
	s.sender.SendTo(s.clientID, evt)
}

// Tee fans an event out to several sinks in order.
type Tee []Sink

// Emit implements Sink.
func (t Tee) Emit(evt Event) {
	for _, s := range t {
		if s != nil {
			s.Emit(evt)
		}
	}
}

// Channel is a stage-bound adapter: every Update reported through it is
// forwarded to the sink tagged with the channel's event type.
type Channel struct {
	sink  Sink
	tag   Type
	jobID string
	now   func() time.Time
}

// NewChannel binds a channel for one pipeline stage of one job.
func NewChannel(sink Sink, tag Type, jobID string) *Channel {
	if sink == nil {
		sink = NopSink{}
	}
	return &Channel{sink: sink, tag: tag, jobID: jobID, now: time.Now}
}

// Report implements Reporter.
func (c *Channel) Report(update Update) {
	if c == nil {
		return
	}
	c.sink.Emit(Event{Type: c.tag, Data: update, JobID: c.jobID, TS: c.now()})
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Update)

// Report implements Reporter.
func (f ReporterFunc) Report(update Update) {
	if f != nil {
		f(update)
	}
}

// Discard is a Reporter that drops updates.
var Discard Reporter = ReporterFunc(nil)
