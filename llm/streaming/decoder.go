package streaming

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Frame is one decoded SSE frame.
type Frame struct {
	Type string
	Data json.RawMessage
}

// Decoder reads SSE frames. Comment lines and unknown fields are skipped;
// several data lines in one frame are joined with newlines.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), 1<<20)
	return &Decoder{scanner: s}
}

// Next returns the next frame, or io.EOF when the input ends between
// frames. Input that ends inside a frame yields io.ErrUnexpectedEOF.
func (d *Decoder) Next() (Frame, error) {
	var (
		event   string
		data    []string
		started bool
	)
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if !started {
				continue
			}
			return Frame{Type: event, Data: json.RawMessage(strings.Join(data, "\n"))}, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
			started = true
		case "data":
			data = append(data, value)
			started = true
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if started {
		return Frame{}, io.ErrUnexpectedEOF
	}
	return Frame{}, io.EOF
}
