// Package protocol implements the Wyoming wire protocol: line-delimited JSON
// event headers with optional JSON data and binary payload sections.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Event is a single protocol frame.
type Event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

type header struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// Reader decodes events from a byte stream.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadEvent reads the next event. It returns io.EOF when the peer closes the
// stream cleanly. Blank lines between events are skipped.
func (r *Reader) ReadEvent() (*Event, error) {
	var line []byte
	for {
		raw, err := r.r.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(raw)) == 0 {
				return nil, io.EOF
			}
			return nil, err
		}
		line = bytes.TrimSpace(raw)
		if len(line) > 0 {
			break
		}
	}

	var h header
	if err := json.Unmarshal(line, &h); err != nil {
		return nil, fmt.Errorf("decode event header: %w", err)
	}
	if h.Type == "" {
		return nil, fmt.Errorf("event header missing type")
	}

	ev := &Event{Type: h.Type, Data: h.Data}

	if h.DataLength > 0 {
		buf := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return nil, fmt.Errorf("read event data: %w", err)
		}
		section := make(map[string]any)
		if err := json.Unmarshal(bytes.TrimSpace(buf), &section); err != nil {
			return nil, fmt.Errorf("decode event data: %w", err)
		}
		if ev.Data == nil {
			ev.Data = section
		} else {
			for k, v := range section {
				ev.Data[k] = v
			}
		}
	}

	if h.PayloadLength > 0 {
		buf := make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return nil, fmt.Errorf("read event payload: %w", err)
		}
		ev.Payload = buf
	}

	return ev, nil
}

// Writer encodes events onto a byte stream. Writes are serialized and each
// event is flushed as one contiguous frame.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent serializes ev as header line + data section + payload and writes
// the whole frame in a single call to the underlying writer.
func (w *Writer) WriteEvent(ev *Event) error {
	var data []byte
	if len(ev.Data) > 0 {
		var err error
		data, err = json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("encode event data: %w", err)
		}
	}

	head, err := json.Marshal(header{
		Type:          ev.Type,
		DataLength:    len(data),
		PayloadLength: len(ev.Payload),
	})
	if err != nil {
		return fmt.Errorf("encode event header: %w", err)
	}

	frame := make([]byte, 0, len(head)+1+len(data)+len(ev.Payload))
	frame = append(frame, head...)
	frame = append(frame, '\n')
	frame = append(frame, data...)
	frame = append(frame, ev.Payload...)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write event frame: %w", err)
	}
	return nil
}
