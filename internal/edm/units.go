package edm

import "fmt"

// Unit names the physical unit a record field is reported in. Values are
// stored raw; no conversion happens in this package.
type Unit int

const (
	UnitNone Unit = iota
	UnitLiters
	UnitGallons
	UnitPounds
	UnitKilograms
	UnitFahrenheit
	UnitCelsius
	UnitLitersPerHour
	UnitGallonsPerHour
	UnitPoundsPerHour
	UnitKilogramsPerHour
	UnitInHg
	UnitVolts
	UnitRPM
)

var unitNames = map[Unit]string{
	UnitNone:             "",
	UnitLiters:           "liters",
	UnitGallons:          "gallons",
	UnitPounds:           "lbs",
	UnitKilograms:        "kg",
	UnitFahrenheit:       "fahrenheit",
	UnitCelsius:          "celsius",
	UnitLitersPerHour:    "lph",
	UnitGallonsPerHour:   "gph",
	UnitPoundsPerHour:    "lbsph",
	UnitKilogramsPerHour: "kgph",
	UnitInHg:             "inhg",
	UnitVolts:            "volts",
	UnitRPM:              "rpm",
}

func (u Unit) String() string { return unitNames[u] }

func (u Unit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *Unit) UnmarshalText(b []byte) error {
	for k, name := range unitNames {
		if name == string(b) {
			*u = k
			return nil
		}
	}
	return fmt.Errorf("unknown unit %q", b)
}

// Units collects the unit of each family of readings for one file.
type Units struct {
	Volume      Unit `json:"volume"`
	Temperature Unit `json:"temperature"`
	OAT         Unit `json:"oat"`
	Flow        Unit `json:"flow"`
	Pressure    Unit `json:"pressure"`
	Voltage     Unit `json:"voltage"`
	Speed       Unit `json:"speed"`
}

func DefaultUnits() Units {
	return Units{
		Volume:      UnitLiters,
		Temperature: UnitFahrenheit,
		OAT:         UnitCelsius,
		Flow:        UnitLitersPerHour,
		Pressure:    UnitInHg,
		Voltage:     UnitVolts,
		Speed:       UnitRPM,
	}
}

// deriveUnits fills the fuel and temperature units from the $F and $C lines.
func deriveUnits(ff FuelFlowConfig, cfg DeviceConfig) Units {
	u := DefaultUnits()
	switch ff.Unit {
	case FuelUnitGPH:
		u.Flow, u.Volume = UnitGallonsPerHour, UnitGallons
	case FuelUnitKPH:
		u.Flow, u.Volume = UnitKilogramsPerHour, UnitKilograms
	case FuelUnitPPH:
		u.Flow, u.Volume = UnitPoundsPerHour, UnitPounds
	default:
		u.Flow, u.Volume = UnitLitersPerHour, UnitLiters
	}
	if cfg.Features().Has(FeatureCLD) {
		u.Temperature = UnitFahrenheit
	} else {
		u.Temperature = UnitCelsius
	}
	if cfg.Unknown&0xF0 == 0 {
		u.OAT = UnitFahrenheit
	} else {
		u.OAT = UnitCelsius
	}
	return u
}
