// Package report summarises a decoded EDM file as JSON or PDF.
package report

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"example.com/edmgate/internal/edm"
	"example.com/edmgate/internal/rules"
)

// FlightSummary is one row of the flight table.
type FlightSummary struct {
	ID          int       `json:"id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Interval    int       `json:"interval"`
	Records     int       `json:"records"`
	Valid       bool      `json:"valid"`
	HasNA       bool      `json:"hasNA"`
	Error       string    `json:"error,omitempty"`
	Diagnostics int       `json:"diagnostics"`
}

func (f FlightSummary) Duration() time.Duration {
	if f.End.Before(f.Start) {
		return 0
	}
	return f.End.Sub(f.Start)
}

type Summary struct {
	Flights       int  `json:"flights"`
	Valid         int  `json:"valid"`
	Invalid       int  `json:"invalid"`
	Records       int  `json:"records"`
	Warnings      int  `json:"warnings"`
	Errors        int  `json:"errors"`
	CheckWarnings int  `json:"checkWarnings"`
	CheckErrors   int  `json:"checkErrors"`
	Pass          bool `json:"pass"`
}

// Report describes one decode run of one file.
type Report struct {
	ID           string           `json:"id"`
	GeneratedAt  time.Time        `json:"generatedAt"`
	File         string           `json:"file"`
	SHA256       string           `json:"sha256"`
	Size         int64            `json:"size"`
	Registration string           `json:"registration"`
	Model        int              `json:"model"`
	Protocol     string           `json:"protocol"`
	Version      int              `json:"version"`
	Build        int              `json:"build,omitempty"`
	Cylinders    int              `json:"cylinders"`
	Engines      int              `json:"engines"`
	Features     string           `json:"features"`
	DownloadTime time.Time        `json:"downloadTime,omitempty"`
	Summary      Summary          `json:"summary"`
	Flights      []FlightSummary  `json:"flights"`
	Findings     []edm.Diagnostic `json:"findings,omitempty"`
	RulePack     string           `json:"rulePack,omitempty"`
	Checks       []rules.Finding  `json:"checks,omitempty"`
}

// New builds a report from a parsed header and the decoded flights. Nil
// entries in flights are skipped.
func New(file, digest string, size int64, h *edm.FileHeader, flights []*edm.FlightData) Report {
	rep := Report{
		ID:           uuid.NewString(),
		GeneratedAt:  time.Now().UTC(),
		File:         file,
		SHA256:       digest,
		Size:         size,
		Registration: h.Registration,
		Model:        h.Config.Model,
		Protocol:     h.Protocol.String(),
		Version:      h.Config.Version,
		Build:        h.Config.Build,
		Cylinders:    h.Cylinders(),
		Engines:      h.Engines(),
		Features:     h.Features().String(),
		DownloadTime: h.DownloadTime,
	}
	rep.Findings = append(rep.Findings, h.Diagnostics...)
	for _, fd := range flights {
		if fd == nil {
			continue
		}
		rep.Flights = append(rep.Flights, Summarize(fd))
		rep.Findings = append(rep.Findings, fd.Diagnostics...)
		rep.Summary.Records += len(fd.Records)
		if fd.Valid {
			rep.Summary.Valid++
		} else {
			rep.Summary.Invalid++
		}
	}
	rep.Summary.Flights = len(rep.Flights)
	for _, d := range rep.Findings {
		switch d.Severity {
		case edm.SeverityError:
			rep.Summary.Errors++
		case edm.SeverityWarning:
			rep.Summary.Warnings++
		}
	}
	rep.Summary.Pass = rep.Summary.Errors == 0
	return rep
}

// AddChecks attaches acceptance findings produced with the named rule
// pack. An error finding fails the report.
func (r *Report) AddChecks(pack string, findings []rules.Finding) {
	r.RulePack = pack
	r.Checks = append(r.Checks, findings...)
	acc := rules.Accept(r.Checks)
	r.Summary.CheckErrors = acc.Errors
	r.Summary.CheckWarnings = acc.Warnings
	r.Summary.Pass = r.Summary.Errors == 0 && acc.Pass
}

func Summarize(fd *edm.FlightData) FlightSummary {
	s := FlightSummary{
		ID:          fd.Header.ID,
		Start:       fd.Header.Date,
		End:         fd.Header.Date,
		Interval:    fd.Header.Interval,
		Records:     len(fd.Records),
		Valid:       fd.Valid,
		HasNA:       fd.HasNA,
		Diagnostics: len(fd.Diagnostics),
	}
	if n := len(fd.Records); n > 0 {
		s.Start = fd.Records[0].Time
		s.End = fd.Records[n-1].Time
	}
	if fd.Err != nil {
		s.Error = fd.Err.Error()
	}
	return s
}

func SaveJSON(rep Report, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (Report, error) {
	var rep Report
	b, err := os.ReadFile(path)
	if err != nil {
		return rep, err
	}
	err = json.Unmarshal(b, &rep)
	return rep, err
}
