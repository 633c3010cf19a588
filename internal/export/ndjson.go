package export

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/edmgate/internal/edm"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flush   func() error
	written int
}

// NewNDJSONWriter wraps w. If w is an http.Flusher or has a Flush() error
// method (bufio.Writer), it is flushed after every object.
func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	nw := &NDJSONWriter{writer: w}
	switch f := w.(type) {
	case http.Flusher:
		nw.flush = func() error { f.Flush(); return nil }
	case interface{ Flush() error }:
		nw.flush = f.Flush
	}
	return nw
}

// FlightLine is the first NDJSON object written for a flight.
type FlightLine struct {
	Type        string           `json:"type"`
	Header      edm.FlightHeader `json:"header"`
	Records     int              `json:"records"`
	Valid       bool             `json:"valid"`
	Error       string           `json:"error,omitempty"`
	HasNA       bool             `json:"hasNA"`
	Diagnostics []edm.Diagnostic `json:"diagnostics,omitempty"`
}

// RecordLine wraps one record with the flight it belongs to.
type RecordLine struct {
	Type   string `json:"type"`
	Flight int    `json:"flight"`
	Index  int    `json:"index"`
	NA     uint64 `json:"na"`
	edm.FlightDataRecord
}

func NewFlightLine(fd *edm.FlightData) FlightLine {
	line := FlightLine{
		Type:        "flight",
		Header:      fd.Header,
		Records:     len(fd.Records),
		Valid:       fd.Valid,
		HasNA:       fd.HasNA,
		Diagnostics: fd.Diagnostics,
	}
	if fd.Err != nil {
		line.Error = fd.Err.Error()
	}
	return line
}

// WriteFlight writes a flight line followed by one line per record.
func (w *NDJSONWriter) WriteFlight(fd *edm.FlightData) error {
	if fd == nil {
		return nil
	}
	if err := w.WriteObject(NewFlightLine(fd)); err != nil {
		return err
	}
	for i, rec := range fd.Records {
		line := RecordLine{Type: "record", Flight: fd.Header.ID, Index: i, NA: rec.NAMask(), FlightDataRecord: rec}
		if err := w.WriteObject(line); err != nil {
			return err
		}
	}
	return nil
}

// WriteObject marshals the provided value to JSON, writes it followed by a
// newline and flushes.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return err
	}
	w.written++
	if w.flush != nil {
		return w.flush()
	}
	return nil
}

// Count is the number of objects written so far.
func (w *NDJSONWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}
