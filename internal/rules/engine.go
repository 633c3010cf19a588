package rules

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"example.com/edmgate/internal/edm"
)

// Rule binds a registered check to its parameters. Params are read by the
// check itself; numeric values may arrive as int or float64 depending on
// whether the pack came from YAML, JSON or Go.
type Rule struct {
	RuleId   string         `json:"ruleId" yaml:"ruleId"`
	Name     string         `json:"name,omitempty" yaml:"name,omitempty"`
	Check    string         `json:"check" yaml:"check"`
	Severity edm.Severity   `json:"severity" yaml:"severity"`
	Disabled bool           `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Params   map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Message  string         `json:"message,omitempty" yaml:"message,omitempty"`
}

type RulePack struct {
	RulePackId string `json:"rulePackId" yaml:"rulePackId"`
	Version    string `json:"version" yaml:"version"`
	Rules      []Rule `json:"rules" yaml:"rules"`
}

// Finding is the outcome of one rule for one flight, or for the whole file
// when FlightID is zero. Count, Value and Limit are check specific.
type Finding struct {
	RuleId   string       `json:"ruleId"`
	Name     string       `json:"name,omitempty"`
	Severity edm.Severity `json:"severity"`
	FlightID int          `json:"flightId,omitempty"`
	Time     time.Time    `json:"time,omitzero"`
	Count    int          `json:"count,omitempty"`
	Value    int          `json:"value,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Message  string       `json:"message"`
}

func (f Finding) String() string {
	if f.FlightID > 0 {
		return fmt.Sprintf("%s %s flight %d: %s", f.Severity, f.RuleId, f.FlightID, f.Message)
	}
	return fmt.Sprintf("%s %s: %s", f.Severity, f.RuleId, f.Message)
}

// Context is what every check sees: one parsed header and its decoded
// flights. Nil flights are skipped by the builtins. Size is the length of
// the download in bytes, zero when unknown.
type Context struct {
	File    string
	Size    int64
	Header  *edm.FileHeader
	Flights []*edm.FlightData
}

type CheckFunc func(ctx *Context, rule Rule) ([]Finding, error)

type Engine struct {
	rulePack RulePack
	registry map[string]CheckFunc
}

func NewEngine(rp RulePack) *Engine {
	return &Engine{
		rulePack: rp,
		registry: make(map[string]CheckFunc),
	}
}

func (e *Engine) Register(name string, f CheckFunc) {
	e.registry[name] = f
}

// Eval runs every enabled rule in pack order. A rule whose check is not
// registered yields a warning; a check that fails yields an error finding.
// Neither stops the remaining rules.
func (e *Engine) Eval(ctx *Context) ([]Finding, error) {
	if ctx == nil || ctx.Header == nil {
		return nil, errors.New("rules: nil context")
	}
	var findings []Finding
	for _, r := range e.rulePack.Rules {
		if r.Disabled {
			continue
		}
		fn, ok := e.registry[r.Check]
		if !ok {
			findings = append(findings, Finding{
				RuleId: r.RuleId, Name: r.Name, Severity: edm.SeverityWarning,
				Message: fmt.Sprintf("no check named %q", r.Check),
			})
			continue
		}
		got, err := fn(ctx, r)
		if err != nil {
			findings = append(findings, Finding{
				RuleId: r.RuleId, Name: r.Name, Severity: edm.SeverityError,
				Message: fmt.Sprintf("check %s failed (%v)", r.Check, err),
			})
			continue
		}
		for i := range got {
			got[i].RuleId = r.RuleId
			got[i].Name = r.Name
			if r.Message != "" {
				got[i].Message = r.Message + ": " + got[i].Message
			}
		}
		findings = append(findings, got...)
	}
	return findings, nil
}

// Check evaluates rp with the builtin checks against one decoded file of
// size bytes.
func Check(h *edm.FileHeader, size int64, flights []*edm.FlightData, rp RulePack) ([]Finding, error) {
	eng := NewEngine(rp)
	eng.RegisterBuiltins()
	return eng.Eval(&Context{Size: size, Header: h, Flights: flights})
}

type Acceptance struct {
	Total    int  `json:"total"`
	Errors   int  `json:"errors"`
	Warnings int  `json:"warnings"`
	Pass     bool `json:"pass"`
}

func Accept(findings []Finding) Acceptance {
	var a Acceptance
	for _, f := range findings {
		switch f.Severity {
		case edm.SeverityError:
			a.Errors++
		case edm.SeverityWarning:
			a.Warnings++
		}
	}
	a.Total = len(findings)
	a.Pass = a.Errors == 0
	return a
}

// WriteNDJSON writes one finding per line.
func WriteNDJSON(w io.Writer, findings []Finding) error {
	bw := bufio.NewWriter(w)
	for _, f := range findings {
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		bw.Write(b)
		bw.WriteString("\n")
	}
	return bw.Flush()
}
