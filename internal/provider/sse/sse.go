// Package sse decodes the Server-Sent Events bodies returned by streaming
// vendor APIs.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

const maxLineBytes = 64 * 1024

// Event is one dispatched SSE event.
type Event struct {
	Name string
	Data []byte
}

// Decoder reads events from an SSE body.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, maxLineBytes)}
}

// Next returns the next event. Multiple data lines are joined with "\n".
// It returns io.EOF once the body is exhausted.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    [][]byte
		hasData bool
	)
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				hasData = parseLine(line, &ev, &data) || hasData
			}
			if hasData {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			return Event{}, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = bytes.Join(data, []byte("\n"))
			return ev, nil
		}
		hasData = parseLine(line, &ev, &data) || hasData
	}
}

func parseLine(line []byte, ev *Event, data *[][]byte) bool {
	if line[0] == ':' {
		return false
	}
	field, value, _ := bytes.Cut(line, []byte(":"))
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	switch string(field) {
	case "event":
		ev.Name = string(value)
	case "data":
		*data = append(*data, append([]byte(nil), value...))
		return true
	}
	return false
}
