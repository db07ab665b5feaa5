// Package stream decodes the server-sent event protocol used by the SQL
// generation service into typed events.
package stream

import (
	"encoding/json"
	"io"
	"strings"
)

// Event types emitted by the generation stream.
const (
	// EventStep reports progress on a reasoning step.
	EventStep = "step"
	// EventSQL carries a fragment of the generated SQL.
	EventSQL = "sql"
)

const (
	dataPrefix     = "data: "
	frameDelimiter = "\n\n"
)

// Event is one decoded record from the stream.
type Event struct {
	Type        string          `json:"type"`
	Title       string          `json:"title,omitempty"`
	Status      string          `json:"status,omitempty"`
	Description string          `json:"description,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Chunk       string          `json:"chunk,omitempty"`
}

// Decoder reads SSE frames from r and yields events in arrival order.
// Frames are delimited by a blank line; a partial frame is held back until
// the next read completes it. Frames without the data prefix, frames that
// fail to parse, and records of unknown type are dropped silently. The
// stream ends at EOF and a Decoder is not restartable.
type Decoder struct {
	r       io.Reader
	readBuf []byte
	buf     string
	pending []Event
	err     error
}

// NewDecoder wraps a raw SSE byte stream, typically an HTTP response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, readBuf: make([]byte, 4096)}
}

// Next returns the next event, or io.EOF once the stream is exhausted. Any
// bytes after the final frame delimiter are discarded at EOF.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			return ev, nil
		}
		if d.err != nil {
			return Event{}, d.err
		}

		n, err := d.r.Read(d.readBuf)
		if n > 0 {
			d.buf += string(d.readBuf[:n])
			d.split()
		}
		if err != nil {
			d.err = err
		}
	}
}

// split consumes every complete frame in the buffer, keeping the trailing
// incomplete fragment for the next read.
func (d *Decoder) split() {
	parts := strings.Split(d.buf, frameDelimiter)
	d.buf = parts[len(parts)-1]

	for _, frame := range parts[:len(parts)-1] {
		frame = strings.TrimSpace(frame)
		if !strings.HasPrefix(frame, dataPrefix) {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(frame[len(dataPrefix):]), &ev); err != nil {
			continue
		}
		if ev.Type != EventStep && ev.Type != EventSQL {
			continue
		}
		d.pending = append(d.pending, ev)
	}
}
