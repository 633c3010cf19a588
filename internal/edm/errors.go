package edm

import (
	"errors"
	"fmt"
)

var (
	ErrHeaderLineChecksum   = errors.New("header line checksum mismatch")
	ErrHeaderLineMalformed  = errors.New("malformed header line")
	ErrInvalidLineType      = errors.New("invalid header line type")
	ErrFlightHeaderChecksum = errors.New("flight header checksum mismatch")
	ErrFlightIDMismatch     = errors.New("flight id mismatch")
	ErrInsufficientBytes    = errors.New("insufficient bytes")
	ErrSampleChecksum       = errors.New("sample checksum mismatch")
	ErrFlightNotFound       = errors.New("flight not found in header index")
)

// DecodeError annotates a sentinel error with where in the file it was hit.
// FlightID is -1 for header errors.
type DecodeError struct {
	Op       string
	FlightID int
	Offset   int
	Err      error
}

func (e *DecodeError) Error() string {
	if e.FlightID >= 0 {
		return fmt.Sprintf("%s: flight %d at offset %d: %v", e.Op, e.FlightID, e.Offset, e.Err)
	}
	return fmt.Sprintf("%s at offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func headerError(offset int, err error) error {
	return &DecodeError{Op: "parse header", FlightID: -1, Offset: offset, Err: err}
}

func flightError(op string, id, offset int, err error) error {
	return &DecodeError{Op: op, FlightID: id, Offset: offset, Err: err}
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a non-fatal or fatal observation made while decoding. The
// decoder collects them next to the data they concern so callers can report
// them without scraping logs.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     string   `json:"code"`
	FlightID int      `json:"flightId,omitempty"`
	Offset   int      `json:"offset"`
	Message  string   `json:"message"`
}

func (d Diagnostic) String() string {
	if d.FlightID > 0 {
		return fmt.Sprintf("%s %s flight %d @%d: %s", d.Severity, d.Code, d.FlightID, d.Offset, d.Message)
	}
	return fmt.Sprintf("%s %s @%d: %s", d.Severity, d.Code, d.Offset, d.Message)
}

// diagnosticCode maps a sentinel to the stable code used in reports.
func diagnosticCode(err error) string {
	switch {
	case errors.Is(err, ErrHeaderLineChecksum):
		return "header-line-checksum"
	case errors.Is(err, ErrHeaderLineMalformed):
		return "header-line-malformed"
	case errors.Is(err, ErrInvalidLineType):
		return "invalid-line-type"
	case errors.Is(err, ErrFlightHeaderChecksum):
		return "flight-header-checksum"
	case errors.Is(err, ErrFlightIDMismatch):
		return "flight-id-mismatch"
	case errors.Is(err, ErrInsufficientBytes):
		return "insufficient-bytes"
	case errors.Is(err, ErrSampleChecksum):
		return "sample-checksum"
	case errors.Is(err, ErrFlightNotFound):
		return "flight-not-found"
	default:
		return "decode"
	}
}
