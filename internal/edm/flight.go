package edm

import (
	"fmt"
	"time"
)

// FlightData is one decoded flight. When Valid is false Err says why and
// Records holds the samples decoded before the failure.
type FlightData struct {
	// Index is the position of the flight's $D line in the file header.
	Index       int                `json:"index"`
	Header      FlightHeader       `json:"header"`
	Records     []FlightDataRecord `json:"records"`
	HasNA       bool               `json:"hasNA"`
	Valid       bool               `json:"valid"`
	Err         error              `json:"-"`
	Diagnostics []Diagnostic       `json:"diagnostics,omitempty"`
}

// Duration is the time between the first and last record.
func (fd *FlightData) Duration() time.Duration {
	if fd == nil || len(fd.Records) < 2 {
		return 0
	}
	return fd.Records[len(fd.Records)-1].Time.Sub(fd.Records[0].Time)
}

func (fd *FlightData) fail(err error, offset int, opts Options) {
	fd.Valid = false
	fd.Err = err
	fd.Diagnostics = append(fd.Diagnostics, Diagnostic{
		Severity: SeverityError,
		Code:     diagnosticCode(err),
		FlightID: fd.Header.ID,
		Offset:   offset,
		Message:  err.Error(),
	})
	opts.Logger.Errorf("%v", err)
}

// DecodeFlight decodes flight id of the file whose header is h. When the
// index lists id more than once the first entry is used.
// On failure the returned FlightData is non-nil, marked invalid and holds
// whatever was decoded before the error.
func DecodeFlight(h *FileHeader, data []byte, id int, opts Options) (*FlightData, error) {
	if h.byID == nil {
		h.index()
	}
	i, ok := h.byID[id]
	if !ok {
		opts = opts.withDefaults()
		fd := &FlightData{Index: -1, Header: FlightHeader{ID: id}}
		err := flightError("flight header", id, 0, ErrFlightNotFound)
		fd.fail(err, 0, opts)
		opts.Metrics.AddFlight(0, 0, false)
		return fd, err
	}
	return DecodeEntry(h, data, i, opts)
}

// DecodeEntry decodes the flight block described by the i-th $D line.
func DecodeEntry(h *FileHeader, data []byte, i int, opts Options) (*FlightData, error) {
	opts = opts.withDefaults()
	if i < 0 || i >= len(h.Flights) {
		fd := &FlightData{Index: i}
		err := flightError("flight header", -1, 0,
			fmt.Errorf("%w: index entry %d of %d", ErrFlightNotFound, i, len(h.Flights)))
		fd.fail(err, 0, opts)
		opts.Metrics.AddFlight(0, 0, false)
		return fd, err
	}
	entry := h.Flights[i]
	id := entry.ID
	fd := &FlightData{Index: i, Header: FlightHeader{ID: id}}

	fh, pos, err := decodeFlightHeader(h, data, entry, opts.Location)
	if err != nil {
		fd.Header = fh
		fd.Header.ID = id
		fd.fail(err, fh.Offset, opts)
		opts.Metrics.AddFlight(0, 0, false)
		return fd, err
	}
	fd.Header = fh
	if fh.Features != h.Features() {
		msg := fmt.Sprintf("flight features %s differ from file features %s", fh.Features, h.Features())
		fd.Diagnostics = append(fd.Diagnostics, Diagnostic{
			Severity: SeverityWarning,
			Code:     "feature-mismatch",
			FlightID: id,
			Offset:   fh.Offset,
			Message:  msg,
		})
		opts.Logger.Warnf("flight %d: %s", id, msg)
	}
	opts.Logger.Infof("%s", fh)

	bodySize := entry.SizeBytes() - h.FlightHeaderSize()
	end := pos + bodySize
	if bodySize < 0 || end > len(data) {
		err := flightError("decode flight", id, pos,
			fmt.Errorf("%w: body needs %d bytes, %d available", ErrInsufficientBytes, bodySize, len(data)-pos))
		fd.fail(err, pos, opts)
		opts.Metrics.AddFlight(0, 0, false)
		return fd, err
	}

	variant := VariantFor(h.Protocol)
	dec := newDecompressor(h, data, end)
	current := newRecord(fh.Date, h.Engines(), h.Cylinders(), fh.Features, variant)
	interval := time.Duration(fh.Interval) * time.Second
	minSample := h.Protocol.MinSampleSize()

	for pos+minSample <= end {
		rec, next, err := dec.next(pos, current)
		if err != nil {
			err = flightError("decode flight", id, pos, err)
			fd.fail(err, pos, opts)
			opts.Metrics.AddFlight(int64(pos-fh.Offset), len(fd.Records), false)
			return fd, err
		}
		pos = next
		fd.Records = append(fd.Records, rec)
		if !rec.NA.IsZero() {
			fd.HasNA = true
		}
		current = rec.Clone()
		for n := rec.RepeatCount; n > 0; n-- {
			current.Time = current.Time.Add(interval)
			cp := current.Clone()
			cp.Repeated = true
			fd.Records = append(fd.Records, cp)
		}
		current.RepeatCount = 0

		switch current.Mark {
		case 2:
			interval = time.Second
		case 3:
			interval = time.Duration(fh.Interval) * time.Second
		}
		current.Time = current.Time.Add(interval)
	}

	fd.Valid = true
	opts.Metrics.AddFlight(int64(end-fh.Offset), len(fd.Records), true)
	opts.Logger.Tracef("flight %d: %d records", id, len(fd.Records))
	return fd, nil
}
