package rules

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"example.com/edmgate/internal/edm"
)

func (e *Engine) RegisterBuiltins() {
	e.Register("FlightValid", CheckFlightValid)
	e.Register("FileLength", CheckFileLength)
	e.Register("HeaderDiagnostics", CheckHeaderDiagnostics)
	e.Register("DuplicateFlights", CheckDuplicateFlights)
	e.Register("FeatureMismatch", CheckFeatureMismatch)
	e.Register("FlightChronology", CheckFlightChronology)
	e.Register("MinRecords", CheckMinRecords)
	e.Register("NASensors", CheckNASensors)
}

// CheckFlightValid reports every flight the decoder had to abandon.
func CheckFlightValid(ctx *Context, rule Rule) ([]Finding, error) {
	var out []Finding
	for _, fd := range ctx.Flights {
		if fd == nil || fd.Valid {
			continue
		}
		msg := "flight could not be decoded"
		if fd.Err != nil {
			msg = fd.Err.Error()
		}
		out = append(out, Finding{
			Severity: severityOr(rule.Severity, edm.SeverityError),
			FlightID: fd.Header.ID,
			Count:    len(fd.Records),
			Message:  msg,
		})
	}
	return out, nil
}

// CheckFileLength compares the file size with the end of the last flight
// in the header index. A short file is reported at the rule severity,
// trailing bytes as info. An unknown size (zero) is not checked.
func CheckFileLength(ctx *Context, rule Rule) ([]Finding, error) {
	if ctx.Size <= 0 {
		return nil, nil
	}
	end := int64(ctx.Header.HeaderLen + ctx.Header.TotalLen)
	switch {
	case ctx.Size < end:
		return []Finding{{
			Severity: severityOr(rule.Severity, edm.SeverityError),
			Value:    int(ctx.Size),
			Limit:    int(end),
			Message:  fmt.Sprintf("file truncated: index needs %d bytes, file has %d", end, ctx.Size),
		}}, nil
	case ctx.Size > end:
		return []Finding{{
			Severity: edm.SeverityInfo,
			Value:    int(ctx.Size),
			Limit:    int(end),
			Message:  fmt.Sprintf("%d bytes after the last flight", ctx.Size-end),
		}}, nil
	}
	return nil, nil
}

// CheckHeaderDiagnostics raises the header diagnostics whose code matches
// params.code (all of them when unset) to the rule severity.
func CheckHeaderDiagnostics(ctx *Context, rule Rule) ([]Finding, error) {
	code, _ := rule.Params["code"].(string)
	var out []Finding
	for _, d := range ctx.Header.Diagnostics {
		if code != "" && d.Code != code {
			continue
		}
		out = append(out, Finding{
			Severity: severityOr(rule.Severity, d.Severity),
			Value:    d.Offset,
			Message:  fmt.Sprintf("%s at offset %d: %s", d.Code, d.Offset, d.Message),
		})
	}
	return out, nil
}

// CheckDuplicateFlights reports flight ids listed more than once in the
// header index. Every entry is decoded, but lookups by id reach only the
// first one.
func CheckDuplicateFlights(ctx *Context, rule Rule) ([]Finding, error) {
	counts := make(map[int]int)
	for _, f := range ctx.Header.Flights {
		counts[f.ID]++
	}
	ids := make([]int, 0)
	for id, n := range counts {
		if n > 1 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]Finding, 0, len(ids))
	for _, id := range ids {
		out = append(out, Finding{
			Severity: severityOr(rule.Severity, edm.SeverityWarning),
			FlightID: id,
			Count:    counts[id],
			Message:  fmt.Sprintf("flight %d listed %d times in the header index", id, counts[id]),
		})
	}
	return out, nil
}

// CheckFeatureMismatch reports decoded flights whose feature mask differs
// from the instrument configuration.
func CheckFeatureMismatch(ctx *Context, rule Rule) ([]Finding, error) {
	want := ctx.Header.Features()
	var out []Finding
	for _, fd := range ctx.Flights {
		if fd == nil || !fd.Valid || fd.Header.Features == want {
			continue
		}
		out = append(out, Finding{
			Severity: severityOr(rule.Severity, edm.SeverityWarning),
			FlightID: fd.Header.ID,
			Time:     fd.Header.Date,
			Message:  fmt.Sprintf("flight features %s differ from file features %s", fd.Header.Features, want),
		})
	}
	return out, nil
}

// CheckFlightChronology expects flights to start before the download time
// (plus params.toleranceSeconds) and in index order.
func CheckFlightChronology(ctx *Context, rule Rule) ([]Finding, error) {
	tol, err := intParam(rule, "toleranceSeconds", 0)
	if err != nil {
		return nil, err
	}
	latest := ctx.Header.DownloadTime.Add(time.Duration(tol) * time.Second)
	sev := severityOr(rule.Severity, edm.SeverityWarning)
	var out []Finding
	var prev *edm.FlightData
	for _, fd := range ctx.Flights {
		if fd == nil || !fd.Valid || fd.Header.Date.IsZero() {
			continue
		}
		start := fd.Header.Date
		if !ctx.Header.DownloadTime.IsZero() && start.After(latest) {
			out = append(out, Finding{
				Severity: sev,
				FlightID: fd.Header.ID,
				Time:     start,
				Message:  fmt.Sprintf("flight starts %s after the download", start.Sub(ctx.Header.DownloadTime)),
			})
		}
		if prev != nil && start.Before(prev.Header.Date) {
			out = append(out, Finding{
				Severity: sev,
				FlightID: fd.Header.ID,
				Time:     start,
				Message:  fmt.Sprintf("flight starts before flight %d", prev.Header.ID),
			})
		}
		prev = fd
	}
	return out, nil
}

// CheckMinRecords reports decoded flights with fewer than params.min
// records (default 1).
func CheckMinRecords(ctx *Context, rule Rule) ([]Finding, error) {
	min, err := intParam(rule, "min", 1)
	if err != nil {
		return nil, err
	}
	var out []Finding
	for _, fd := range ctx.Flights {
		if fd == nil || !fd.Valid || len(fd.Records) >= min {
			continue
		}
		out = append(out, Finding{
			Severity: severityOr(rule.Severity, edm.SeverityWarning),
			FlightID: fd.Header.ID,
			Time:     fd.Header.Date,
			Count:    len(fd.Records),
			Value:    len(fd.Records),
			Limit:    min,
			Message:  fmt.Sprintf("flight has %d records, expected at least %d", len(fd.Records), min),
		})
	}
	return out, nil
}

// CheckNASensors notes flights in which any sensor reported not available.
func CheckNASensors(ctx *Context, rule Rule) ([]Finding, error) {
	var out []Finding
	for _, fd := range ctx.Flights {
		if fd == nil || !fd.HasNA {
			continue
		}
		var first time.Time
		count, peak := 0, 0
		for _, r := range fd.Records {
			n := r.NA.OnesCount()
			if n == 0 {
				continue
			}
			if count == 0 {
				first = r.Time
			}
			count++
			peak = max(peak, n)
		}
		out = append(out, Finding{
			Severity: severityOr(rule.Severity, edm.SeverityInfo),
			FlightID: fd.Header.ID,
			Time:     first,
			Count:    count,
			Value:    peak,
			Message:  fmt.Sprintf("%d records with sensors not available, at most %d at once", count, peak),
		})
	}
	return out, nil
}

func severityOr(s, fallback edm.Severity) edm.Severity {
	if s == "" {
		return fallback
	}
	return s
}

var errParamType = errors.New("parameter is not an integer")

// intParam reads an integer parameter, returning fallback when it is absent.
func intParam(rule Rule, key string, fallback int) (int, error) {
	raw, ok := rule.Params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s: %w", key, errParamType)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", key, errParamType)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: %w", key, errParamType)
	}
}
