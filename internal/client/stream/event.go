// Package stream decodes push channel frames into typed chat events.
package stream

// Event is one of Started, Chunk, Ended or Failed.
type Event interface {
	isEvent()
	// Terminal reports whether the stream is closed after this event.
	Terminal() bool
}

// Started signals that the server began producing a reply.
type Started struct{}

// Chunk carries an incremental fragment and the text accumulated so far.
type Chunk struct {
	Text string
	Full string
}

// Ended signals normal completion with the final accumulated text.
type Ended struct {
	Text string
}

// Failed terminates the stream. Err is set when the failure came from the
// transport rather than from a server "error" frame.
type Failed struct {
	Reason string
	Err    error
}

func (Started) isEvent() {}
func (Chunk) isEvent()   {}
func (Ended) isEvent()   {}
func (Failed) isEvent()  {}

func (Started) Terminal() bool { return false }
func (Chunk) Terminal() bool   { return false }
func (Ended) Terminal() bool   { return true }
func (Failed) Terminal() bool  { return true }
