package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"example.com/edmgate/internal/edm"
)

const DefaultRulePackID = "edm-acceptance"

// DefaultRulePack decides whether a download decoded cleanly enough to be
// archived: every flight decodes, the file matches its index and the
// flights are consistent with the instrument that recorded them.
func DefaultRulePack() RulePack {
	return RulePack{
		RulePackId: DefaultRulePackID,
		Version:    "1",
		Rules: []Rule{
			{RuleId: "EDM-FLIGHT-001", Name: "Flight decodes", Check: "FlightValid", Severity: edm.SeverityError},
			{RuleId: "EDM-LEN-001", Name: "File length", Check: "FileLength", Severity: edm.SeverityError},
			{
				RuleId: "EDM-HDR-001", Name: "Header line checksum", Check: "HeaderDiagnostics", Severity: edm.SeverityWarning,
				Params: map[string]any{"code": "header-line-checksum"},
			},
			{
				RuleId: "EDM-HDR-002", Name: "Header fields", Check: "HeaderDiagnostics", Severity: edm.SeverityWarning,
				Params: map[string]any{"code": "header-field"},
			},
			{RuleId: "EDM-IDX-001", Name: "Duplicate flight ids", Check: "DuplicateFlights", Severity: edm.SeverityWarning},
			{RuleId: "EDM-FEAT-001", Name: "Flight features", Check: "FeatureMismatch", Severity: edm.SeverityWarning},
			{
				RuleId: "EDM-TIME-001", Name: "Flight chronology", Check: "FlightChronology", Severity: edm.SeverityWarning,
				Params: map[string]any{"toleranceSeconds": 300},
			},
			{RuleId: "EDM-REC-001", Name: "Flight has records", Check: "MinRecords", Severity: edm.SeverityWarning},
			{RuleId: "EDM-NA-001", Name: "Sensors not available", Check: "NASensors", Severity: edm.SeverityInfo},
		},
	}
}

// LoadRulePack reads a rule pack from YAML. JSON packs load too.
func LoadRulePack(path string) (RulePack, error) {
	var rp RulePack
	b, err := os.ReadFile(path)
	if err != nil {
		return rp, err
	}
	if err := yaml.Unmarshal(b, &rp); err != nil {
		return rp, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := rp.Validate(); err != nil {
		return rp, fmt.Errorf("%s: %w", path, err)
	}
	return rp, nil
}

// LoadOrDefault loads the pack at path, or returns DefaultRulePack when
// path is empty.
func LoadOrDefault(path string) (RulePack, error) {
	if path == "" {
		return DefaultRulePack(), nil
	}
	return LoadRulePack(path)
}

func (rp RulePack) Validate() error {
	seen := make(map[string]bool, len(rp.Rules))
	for i, r := range rp.Rules {
		if r.RuleId == "" {
			return fmt.Errorf("rule %d: missing ruleId", i)
		}
		if seen[r.RuleId] {
			return fmt.Errorf("rule %s: duplicate ruleId", r.RuleId)
		}
		seen[r.RuleId] = true
		if r.Check == "" {
			return fmt.Errorf("rule %s: missing check", r.RuleId)
		}
		switch r.Severity {
		case "", edm.SeverityError, edm.SeverityWarning, edm.SeverityInfo:
		default:
			return fmt.Errorf("rule %s: unknown severity %q", r.RuleId, r.Severity)
		}
	}
	return nil
}
