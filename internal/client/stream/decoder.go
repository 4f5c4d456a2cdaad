package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/zhouzirui/studydesk/internal/model/chat"
)

// ErrClosedBeforeEnd is the reason reported when the channel ends without a
// terminal frame.
var ErrClosedBeforeEnd = errors.New("stream closed before end")

// Source delivers raw frames in arrival order. ReadFrame returns io.EOF once
// the channel is exhausted.
type Source interface {
	ReadFrame() ([]byte, error)
}

// Decoder turns frames from a Source into Events. It is not safe for
// concurrent use; one goroutine owns a stream.
type Decoder struct {
	src    Source
	full   strings.Builder
	closed bool
}

// NewDecoder returns a decoder reading from src.
func NewDecoder(src Source) *Decoder {
	return &Decoder{src: src}
}

// Text returns the concatenation of every chunk seen so far.
func (d *Decoder) Text() string {
	return d.full.String()
}

// Closed reports whether a terminal event has been returned.
func (d *Decoder) Closed() bool {
	return d.closed
}

// Next blocks for the next event. After a terminal event it returns io.EOF
// and never reads from the source again.
func (d *Decoder) Next() (Event, error) {
	if d.closed {
		return nil, io.EOF
	}

	raw, err := d.src.ReadFrame()
	if err != nil {
		d.closed = true
		if errors.Is(err, io.EOF) {
			return Failed{Reason: ErrClosedBeforeEnd.Error(), Err: ErrClosedBeforeEnd}, nil
		}
		return Failed{Reason: err.Error(), Err: err}, nil
	}

	ev := d.decode(raw)
	if ev.Terminal() {
		d.closed = true
	}
	return ev, nil
}

// All iterates events until the stream closes.
func (d *Decoder) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := d.Next()
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
		}
	}
}

func (d *Decoder) decode(raw []byte) Event {
	var frame chat.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Failed{Reason: fmt.Sprintf("malformed frame: %v", err)}
	}

	switch frame.Type {
	case chat.FrameStart:
		return Started{}
	case chat.FrameChunk:
		var data chat.ChunkData
		if err := decodeData(frame.Data, &data); err != nil {
			return Failed{Reason: fmt.Sprintf("malformed chunk frame: %v", err)}
		}
		d.full.WriteString(data.Content)
		return Chunk{Text: data.Content, Full: d.full.String()}
	case chat.FrameEnd:
		var data chat.EndData
		if err := decodeData(frame.Data, &data); err != nil {
			return Failed{Reason: fmt.Sprintf("malformed end frame: %v", err)}
		}
		// 未收到任何分片时以服务端给出的全文为准
		if d.full.Len() == 0 && data.FullText != "" {
			d.full.WriteString(data.FullText)
		}
		return Ended{Text: d.full.String()}
	case chat.FrameError:
		var data chat.ErrorData
		if err := decodeData(frame.Data, &data); err != nil {
			return Failed{Reason: fmt.Sprintf("malformed error frame: %v", err)}
		}
		if data.Message == "" {
			data.Message = "unknown server error"
		}
		return Failed{Reason: data.Message}
	default:
		return Failed{Reason: fmt.Sprintf("unknown frame type %q", frame.Type)}
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
