package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/edmgate/internal/bitfield"
	"example.com/edmgate/internal/edm"
)

var base = time.Date(2024, time.May, 4, 10, 0, 0, 0, time.UTC)

func rec(sec int) edm.FlightDataRecord {
	return edm.FlightDataRecord{
		Time: base.Add(time.Duration(sec) * time.Second),
		EGT:  make([]int16, 4),
		CHT:  make([]int16, 4),
		NA:   bitfield.New(edm.NAFlagBits),
	}
}

func fixture() *Context {
	h := &edm.FileHeader{
		Registration: "N512EX",
		Config:       edm.DeviceConfig{Model: 900, FlagsLow: uint16(edm.FeatureBattery)},
		DownloadTime: base.Add(3 * time.Hour),
		Flights:      []edm.FlightIndexEntry{{ID: 1}, {ID: 2}, {ID: 2}, {ID: 3}, {ID: 4}},
		HeaderLen:    100,
		TotalLen:     400,
		Diagnostics: []edm.Diagnostic{
			{Severity: edm.SeverityWarning, Code: "header-line-checksum", Offset: 0, Message: "checksum mismatch"},
			{Severity: edm.SeverityWarning, Code: "header-field", Offset: 40, Message: "index runs past the data"},
		},
	}
	r2 := rec(12)
	r2.NA.Set(8)
	first := &edm.FlightData{
		Header:  edm.FlightHeader{ID: 1, Date: base, Features: edm.FeatureBattery},
		Records: []edm.FlightDataRecord{rec(0), rec(6), r2},
		HasNA:   true,
		Valid:   true,
	}
	bad := &edm.FlightData{
		Header: edm.FlightHeader{ID: 2, Date: base.Add(time.Hour)},
		Err:    edm.ErrSampleChecksum,
	}
	late := &edm.FlightData{
		Header: edm.FlightHeader{ID: 3, Date: base.Add(5 * time.Hour), Features: edm.FeatureBattery | edm.FeatureOil},
		Valid:  true,
	}
	early := &edm.FlightData{
		Header:  edm.FlightHeader{ID: 4, Date: base.Add(-time.Hour), Features: edm.FeatureBattery},
		Records: []edm.FlightDataRecord{rec(0)},
		Valid:   true,
	}
	return &Context{
		File:    "fixture.jpi",
		Size:    480,
		Header:  h,
		Flights: []*edm.FlightData{first, bad, nil, late, early},
	}
}

func TestDefaultRulePack(t *testing.T) {
	if err := DefaultRulePack().Validate(); err != nil {
		t.Fatalf("default pack invalid: %v", err)
	}
	eng := NewEngine(DefaultRulePack())
	eng.RegisterBuiltins()
	findings, err := eng.Eval(fixture())
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}

	want := []struct {
		rule     string
		flight   int
		severity edm.Severity
		count    int
		value    int
		limit    int
	}{
		{"EDM-FLIGHT-001", 2, edm.SeverityError, 0, 0, 0},
		{"EDM-LEN-001", 0, edm.SeverityError, 0, 480, 500},
		{"EDM-HDR-001", 0, edm.SeverityWarning, 0, 0, 0},
		{"EDM-HDR-002", 0, edm.SeverityWarning, 0, 40, 0},
		{"EDM-IDX-001", 2, edm.SeverityWarning, 2, 0, 0},
		{"EDM-FEAT-001", 3, edm.SeverityWarning, 0, 0, 0},
		{"EDM-TIME-001", 3, edm.SeverityWarning, 0, 0, 0},
		{"EDM-TIME-001", 4, edm.SeverityWarning, 0, 0, 0},
		{"EDM-REC-001", 3, edm.SeverityWarning, 0, 0, 1},
		{"EDM-NA-001", 1, edm.SeverityInfo, 1, 1, 0},
	}
	if len(findings) != len(want) {
		t.Fatalf("findings = %d, want %d: %v", len(findings), len(want), findings)
	}
	for i, w := range want {
		f := findings[i]
		if f.RuleId != w.rule || f.FlightID != w.flight || f.Severity != w.severity ||
			f.Count != w.count || f.Value != w.value || f.Limit != w.limit {
			t.Fatalf("finding %d = %+v, want %+v", i, f, w)
		}
	}
	if !strings.Contains(findings[0].Message, edm.ErrSampleChecksum.Error()) {
		t.Fatalf("flight finding message %q", findings[0].Message)
	}
	if !strings.Contains(findings[7].Message, "before flight 3") {
		t.Fatalf("chronology message %q", findings[7].Message)
	}
	if !findings[9].Time.Equal(base.Add(12 * time.Second)) {
		t.Fatalf("NA first seen at %v", findings[9].Time)
	}

	acc := Accept(findings)
	if acc.Total != 10 || acc.Errors != 2 || acc.Warnings != 7 || acc.Pass {
		t.Fatalf("acceptance = %+v", acc)
	}
}

func TestEvalRuleOutcomes(t *testing.T) {
	rp := RulePack{RulePackId: "custom", Rules: []Rule{
		{RuleId: "R-1", Check: "Nope"},
		{RuleId: "R-2", Check: "MinRecords", Params: map[string]any{"min": "abc"}},
		{RuleId: "R-3", Check: "MinRecords", Disabled: true},
		{RuleId: "R-4", Check: "MinRecords", Params: map[string]any{"min": 3.0}, Message: "custom"},
		{RuleId: "R-5", Check: "FileLength"},
		{RuleId: "R-6", Check: "HeaderDiagnostics", Severity: edm.SeverityError},
	}}
	ctx := fixture()
	findings, err := Check(ctx.Header, 0, ctx.Flights, rp)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	tests := []struct {
		rule     string
		severity edm.Severity
		contains string
	}{
		{"R-1", edm.SeverityWarning, `no check named "Nope"`},
		{"R-2", edm.SeverityError, "not an integer"},
		{"R-4", edm.SeverityWarning, "custom: flight has 0 records, expected at least 3"},
		{"R-4", edm.SeverityWarning, "custom: flight has 1 records"},
		{"R-6", edm.SeverityError, "header-line-checksum at offset 0"},
		{"R-6", edm.SeverityError, "header-field at offset 40"},
	}
	if len(findings) != len(tests) {
		t.Fatalf("findings = %d, want %d: %v", len(findings), len(tests), findings)
	}
	for i, tc := range tests {
		t.Run(fmt.Sprintf("%d-%s", i, tc.rule), func(t *testing.T) {
			f := findings[i]
			if f.RuleId != tc.rule || f.Severity != tc.severity || !strings.Contains(f.Message, tc.contains) {
				t.Fatalf("finding = %+v", f)
			}
		})
	}
}

func TestFileLength(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		severity edm.Severity
	}{
		{"unknown", 0, ""},
		{"exact", 500, ""},
		{"truncated", 480, edm.SeverityError},
		{"trailing", 520, edm.SeverityInfo},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := fixture()
			ctx.Size = tc.size
			got, err := CheckFileLength(ctx, Rule{RuleId: "L"})
			if err != nil {
				t.Fatalf("CheckFileLength: %v", err)
			}
			if tc.severity == "" {
				if len(got) != 0 {
					t.Fatalf("findings = %+v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Severity != tc.severity || got[0].Value != int(tc.size) || got[0].Limit != 500 {
				t.Fatalf("findings = %+v", got)
			}
		})
	}
}

func TestFlightChronologyTolerance(t *testing.T) {
	ctx := fixture()
	ctx.Flights = ctx.Flights[:4]
	rule := Rule{RuleId: "T", Params: map[string]any{"toleranceSeconds": 3 * 3600}}
	got, err := CheckFlightChronology(ctx, rule)
	if err != nil {
		t.Fatalf("CheckFlightChronology: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("findings = %+v", got)
	}

	ctx.Header.DownloadTime = time.Time{}
	ctx.Flights = fixture().Flights
	got, err = CheckFlightChronology(ctx, Rule{RuleId: "T"})
	if err != nil {
		t.Fatalf("CheckFlightChronology: %v", err)
	}
	if len(got) != 1 || got[0].FlightID != 4 {
		t.Fatalf("findings without download time = %+v", got)
	}
}

func TestEvalNilContext(t *testing.T) {
	if _, err := NewEngine(DefaultRulePack()).Eval(nil); err == nil {
		t.Fatalf("nil context accepted")
	}
}

func TestLoadRulePack(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "pack.yaml")
	yamlPack := `rulePackId: fleet
version: "2"
rules:
  - ruleId: FLEET-REC
    check: MinRecords
    severity: error
    params:
      min: 2
`
	if err := os.WriteFile(yamlPath, []byte(yamlPack), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rp, err := LoadRulePack(yamlPath)
	if err != nil {
		t.Fatalf("LoadRulePack: %v", err)
	}
	if rp.RulePackId != "fleet" || len(rp.Rules) != 1 || rp.Rules[0].Severity != edm.SeverityError {
		t.Fatalf("pack = %+v", rp)
	}
	ctx := fixture()
	findings, err := Check(ctx.Header, ctx.Size, ctx.Flights, rp)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(findings) != 2 || findings[0].Limit != 2 || findings[1].Count != 1 || findings[1].Severity != edm.SeverityError {
		t.Fatalf("findings = %+v", findings)
	}

	jsonPath := filepath.Join(dir, "pack.json")
	if err := os.WriteFile(jsonPath, []byte(`{"rulePackId":"j","rules":[{"ruleId":"J-1","check":"DuplicateFlights"}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rp, err := LoadRulePack(jsonPath); err != nil || rp.Rules[0].Check != "DuplicateFlights" {
		t.Fatalf("json pack = %+v, %v", rp, err)
	}

	bad := map[string]string{
		"duplicate": `rules: [{ruleId: A, check: X}, {ruleId: A, check: Y}]`,
		"noCheck":   `rules: [{ruleId: A}]`,
		"severity":  `rules: [{ruleId: A, check: X, severity: fatal}]`,
	}
	for name, body := range bad {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, name+".yaml")
			if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadRulePack(p); err == nil {
				t.Fatalf("invalid pack accepted")
			}
		})
	}
	if _, err := LoadOrDefault(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing pack error = %v", err)
	}
	if rp, err := LoadOrDefault(""); err != nil || rp.RulePackId != DefaultRulePackID {
		t.Fatalf("LoadOrDefault(\"\") = %+v, %v", rp, err)
	}
}

func TestWriteNDJSON(t *testing.T) {
	findings := []Finding{
		{RuleId: "A", Severity: edm.SeverityWarning, FlightID: 3, Time: base, Count: 2, Message: "with time"},
		{RuleId: "B", Severity: edm.SeverityError, Message: "file level"},
	}
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, findings); err != nil {
		t.Fatalf("WriteNDJSON: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte{'\n'})
	if len(lines) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first line: %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("unmarshal second line: %v", err)
	}
	if _, ok := first["time"]; !ok {
		t.Fatalf("time missing from first finding")
	}
	if _, ok := second["time"]; ok {
		t.Fatalf("zero time written: %v", second)
	}
	if second["flightId"] != nil {
		t.Fatalf("file-level finding carries flightId %v", second["flightId"])
	}
}
