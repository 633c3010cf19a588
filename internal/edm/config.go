package edm

import (
	"strconv"
	"strings"
	"time"
)

// AlarmLimits are the instrument alarm thresholds from the $A line.
type AlarmLimits struct {
	VoltsHigh int `json:"voltsHigh"`
	VoltsLow  int `json:"voltsLow"`
	Diff      int `json:"diff"`
	CHT       int `json:"cht"`
	CLD       int `json:"cld"`
	TIT       int `json:"tit"`
	OilHigh   int `json:"oilHigh"`
	OilLow    int `json:"oilLow"`
}

func parseAlarms(l HeaderLine) (AlarmLimits, bool) {
	if len(l.Fields) != 8 {
		return AlarmLimits{}, false
	}
	v := l.Ints(0)
	return AlarmLimits{
		VoltsHigh: v[0],
		VoltsLow:  v[1],
		Diff:      v[2],
		CHT:       v[3],
		CLD:       v[4],
		TIT:       v[5],
		OilHigh:   v[6],
		OilLow:    v[7],
	}, true
}

// FuelUnit is the flow unit code of the $F line.
type FuelUnit int

const (
	FuelUnitGPH FuelUnit = 0
	FuelUnitPPH FuelUnit = 1
	FuelUnitLPH FuelUnit = 2
	FuelUnitKPH FuelUnit = 3
)

func (u FuelUnit) String() string {
	switch u {
	case FuelUnitGPH:
		return "GPH"
	case FuelUnitPPH:
		return "PPH"
	case FuelUnitKPH:
		return "KPH"
	default:
		return "LPH"
	}
}

// FuelFlowConfig holds the $F line: flow unit, tank capacities and the two
// K-factors of the flow transducers.
type FuelFlowConfig struct {
	Unit  FuelUnit `json:"unit"`
	Tank1 int      `json:"tank1"`
	Tank2 int      `json:"tank2"`
	K1    int      `json:"k1"`
	K2    int      `json:"k2"`
}

func defaultFuelFlow() FuelFlowConfig {
	return FuelFlowConfig{Unit: FuelUnitLPH}
}

func parseFuelFlow(l HeaderLine) (FuelFlowConfig, bool) {
	if len(l.Fields) != 5 {
		return defaultFuelFlow(), false
	}
	v := l.Ints(0)
	ff := FuelFlowConfig{Tank1: v[1], Tank2: v[2], K1: v[3], K2: v[4]}
	switch FuelUnit(v[0]) {
	case FuelUnitGPH, FuelUnitPPH, FuelUnitKPH:
		ff.Unit = FuelUnit(v[0])
	default:
		ff.Unit = FuelUnitLPH
	}
	return ff, true
}

// parseTimestamp reads the $T line: month, day, two-digit year, hour,
// minute and a trailing field the instrument does not document.
func parseTimestamp(l HeaderLine, loc *time.Location) (time.Time, bool) {
	if len(l.Fields) != 6 {
		return time.Time{}, false
	}
	v := l.Ints(0)
	return time.Date(v[2]+2000, time.Month(v[0]), v[1], v[3], v[4], 0, 0, loc), true
}

func parseRegistration(l HeaderLine) (string, bool) {
	if len(l.Fields) != 1 {
		return "", false
	}
	return strings.TrimRight(l.Fields[0], " \t"), true
}

// DeviceConfig is the $C line. Firmware builds that append build and beta
// numbers produce seven or more fields.
type DeviceConfig struct {
	Model     int    `json:"model"`
	FlagsLow  uint16 `json:"flagsLow"`
	FlagsHigh uint16 `json:"flagsHigh"`
	Unknown   int    `json:"unknown"`
	Version   int    `json:"version"`
	Build     int    `json:"build,omitempty"`
	Beta      int    `json:"beta,omitempty"`
	HasBuild  bool   `json:"hasBuild"`
}

func (c DeviceConfig) Features() Features {
	return FeaturesFromWords(c.FlagsLow, c.FlagsHigh)
}

// Engines is 2 for the twin-engine model and 1 otherwise.
func (c DeviceConfig) Engines() int {
	if c.Model == modelTwin {
		return 2
	}
	return 1
}

func parseConfig(l HeaderLine) (DeviceConfig, bool) {
	n := len(l.Fields)
	if n < 5 {
		return DeviceConfig{}, false
	}
	cfg := DeviceConfig{
		Model:     atoiOr(l.Fields[0], -1),
		FlagsLow:  parseUint16(l.Fields[1]),
		FlagsHigh: parseUint16(l.Fields[2]),
		Unknown:   atoiOr(l.Fields[3], -1),
	}
	if n > 6 {
		cfg.Beta = atoiOr(l.Fields[n-1], 0)
		cfg.Build = atoiOr(l.Fields[n-2], 0)
		cfg.HasBuild = true
		n -= 2
	}
	cfg.Version = atoiOr(l.Fields[n-1], -1)
	return cfg, true
}

// FlightIndexEntry is one $D line plus the byte offset computed once the
// header has been fully read.
type FlightIndexEntry struct {
	ID        int `json:"id"`
	SizeWords int `json:"sizeWords"`
	Offset    int `json:"offset"`
}

func (e FlightIndexEntry) SizeBytes() int { return e.SizeWords * 2 }

func parseFlightEntry(l HeaderLine) (FlightIndexEntry, bool) {
	if len(l.Fields) != 2 {
		return FlightIndexEntry{}, false
	}
	return FlightIndexEntry{
		ID:        atoiOr(l.Fields[0], -1),
		SizeWords: atoiOr(l.Fields[1], -1),
	}, true
}

func atoiOr(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}

func parseUint16(s string) uint16 {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}
