package edm

import (
	"fmt"
	"slices"
	"time"

	"example.com/edmgate/internal/bitfield"
)

// Sensor slots of the decompressed value vector.
const (
	slotEGT       = 0
	slotT1        = 6
	slotT2        = 7
	slotCHT       = 8
	slotCLD       = 14
	slotOil       = 15
	slotMark      = 16
	slotOilP      = 17
	slotCDT       = 18
	slotIAT       = 19
	slotBattery   = 20
	slotOAT       = 21
	slotFuelUsed  = 22
	slotFuelFlow  = 23
	slotREGT      = 24
	slotHPOrRT1   = 30
	slotRT2       = 31
	slotRCHT      = 32
	slotRCLD      = 38
	slotROil      = 39
	slotMAP       = 40
	slotRPM       = 41
	slotRPMHiRCDT = 42
	slotRIAT      = 43
	slotUnk44     = 44
	slotUnk45     = 45
	slotRFuelUsed = 46
	slotRFuelFlow = 47

	// NAFlagBits covers every sensor slot below the high-byte range.
	NAFlagBits = 48

	cylindersPerBank = 6
)

// TagKind says which reading a shared slot carries for this instrument.
type TagKind uint8

const (
	TagHorsepower TagKind = iota
	TagRightTIT1
	TagRPMHigh
	TagRightCDT
)

func (k TagKind) String() string {
	switch k {
	case TagHorsepower:
		return "hp"
	case TagRightTIT1:
		return "rt1"
	case TagRPMHigh:
		return "rpmHigh"
	case TagRightCDT:
		return "rcdt"
	default:
		return "unknown"
	}
}

func (k TagKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *TagKind) UnmarshalText(b []byte) error {
	for _, c := range []TagKind{TagHorsepower, TagRightTIT1, TagRPMHigh, TagRightCDT} {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown tag kind %q", b)
}

// Tagged is a value whose meaning depends on the instrument model.
type Tagged struct {
	Kind  TagKind `json:"kind"`
	Value int16   `json:"value"`
}

// SlotVariant fixes the meaning of slots 30 and 42. It is chosen once per
// file from the protocol.
type SlotVariant struct {
	Slot30 TagKind
	Slot42 TagKind
}

func VariantFor(p Protocol) SlotVariant {
	if p == ProtocolV2 {
		return SlotVariant{Slot30: TagRightTIT1, Slot42: TagRightCDT}
	}
	return SlotVariant{Slot30: TagHorsepower, Slot42: TagRPMHigh}
}

// FlightDataRecord is the running state of every sensor at one instant.
// Values are raw instrument units.
type FlightDataRecord struct {
	Time time.Time `json:"time"`

	EGT  []int16 `json:"egt"`
	CHT  []int16 `json:"cht"`
	REGT []int16 `json:"regt,omitempty"`
	RCHT []int16 `json:"rcht,omitempty"`

	T1          int16 `json:"t1"`
	T2          int16 `json:"t2"`
	CLD         int16 `json:"cld"`
	Oil         int16 `json:"oil"`
	Mark        int16 `json:"mark"`
	OilPressure int16 `json:"oilPressure"`
	CDT         int16 `json:"cdt"`
	IAT         int16 `json:"iat"`
	Battery     int16 `json:"battery"`
	OAT         int16 `json:"oat"`
	FuelUsed    int16 `json:"fuelUsed"`
	FuelFlow    int16 `json:"fuelFlow"`

	HPOrRT1       Tagged `json:"hpOrRt1"`
	RT2           int16  `json:"rt2"`
	RCLD          int16  `json:"rcld"`
	ROil          int16  `json:"roil"`
	MAP           int16  `json:"map"`
	RPM           int16  `json:"rpm"`
	RPMHighOrRCDT Tagged `json:"rpmHighOrRcdt"`
	RIAT          int16  `json:"riat"`
	Unknown44     int16  `json:"unknown44"`
	Unknown45     int16  `json:"unknown45"`
	RFuelUsed     int16  `json:"rfuelUsed"`
	RFuelFlow     int16  `json:"rfuelFlow"`

	// Spread is the EGT max-min per engine over cylinders that reported.
	Spread [2]int16 `json:"spread"`

	NA          bitfield.Field `json:"-"`
	RepeatCount int            `json:"repeatCount"`
	Repeated    bool           `json:"repeated,omitempty"`

	HasBattery bool `json:"hasBattery"`
	HasOil     bool `json:"hasOil"`
	HasTIT     bool `json:"hasTit"`
	HasCDT     bool `json:"hasCdt"`
	HasIAT     bool `json:"hasIat"`
	HasOAT     bool `json:"hasOat"`
	HasRPM     bool `json:"hasRpm"`
	HasFF      bool `json:"hasFf"`
	HasMAP     bool `json:"hasMap"`
}

// newRecord returns the zero record a flight starts from.
func newRecord(at time.Time, engines, cylinders int, features Features, v SlotVariant) FlightDataRecord {
	r := FlightDataRecord{
		Time:          at,
		EGT:           make([]int16, cylinders),
		CHT:           make([]int16, cylinders),
		HPOrRT1:       Tagged{Kind: v.Slot30},
		RPMHighOrRCDT: Tagged{Kind: v.Slot42},
		NA:            bitfield.New(NAFlagBits),
		HasBattery:    features.Has(FeatureBattery),
		HasOil:        features.Has(FeatureOil),
		HasTIT:        features.Has(FeatureTIT),
		HasCDT:        features.Has(FeatureCarb),
		HasIAT:        features.Has(FeatureIAT),
		HasOAT:        features.Has(FeatureOAT),
		HasRPM:        features.Has(FeatureRPM),
		HasFF:         features.Has(FeatureFF),
		HasMAP:        features.Has(FeatureMAP),
	}
	if engines > 1 {
		r.REGT = make([]int16, cylinders)
		r.RCHT = make([]int16, cylinders)
	}
	return r
}

// Clone returns a copy that shares no slices with r.
func (r FlightDataRecord) Clone() FlightDataRecord {
	r.EGT = slices.Clone(r.EGT)
	r.CHT = slices.Clone(r.CHT)
	r.REGT = slices.Clone(r.REGT)
	r.RCHT = slices.Clone(r.RCHT)
	return r
}

// NAMask returns the not-available flags as a plain bit mask.
func (r FlightDataRecord) NAMask() uint64 { return r.NA.Low() }

// IsNA reports whether the sensor in slot was flagged not available.
func (r FlightDataRecord) IsNA(slot int) bool { return r.NA.Has(slot) }

// EGTNA and CHTNA report whether a cylinder of engine 0 (left or single)
// or engine 1 (right) was flagged not available.
func (r FlightDataRecord) EGTNA(engine, cyl int) bool {
	if engine > 0 {
		return r.NA.Has(slotREGT + cyl)
	}
	return r.NA.Has(egtSlot(cyl))
}

func (r FlightDataRecord) CHTNA(engine, cyl int) bool {
	if engine > 0 {
		return r.NA.Has(slotRCHT + cyl)
	}
	return r.NA.Has(chtSlot(cyl))
}

// egtSlot and chtSlot map a cylinder index of the primary engine to its
// slot. Cylinders beyond the first bank of six use the second bank slots.
func egtSlot(cyl int) int {
	if cyl < cylindersPerBank {
		return slotEGT + cyl
	}
	return slotREGT + cyl - cylindersPerBank
}

func chtSlot(cyl int) int {
	if cyl < cylindersPerBank {
		return slotCHT + cyl
	}
	return slotRCHT + cyl - cylindersPerBank
}

// accumulate adds a decompressed delta vector into the record. All sums
// wrap at 16 bits.
func (r *FlightDataRecord) accumulate(v *[128]int16) {
	for i := range r.EGT {
		r.EGT[i] += v[egtSlot(i)]
		r.CHT[i] += v[chtSlot(i)]
	}
	for i := range r.REGT {
		r.REGT[i] += v[slotREGT+i]
		r.RCHT[i] += v[slotRCHT+i]
	}
	r.T1 += v[slotT1]
	r.T2 += v[slotT2]
	r.CLD += v[slotCLD]
	r.Oil += v[slotOil]
	r.Mark += v[slotMark]
	r.OilPressure += v[slotOilP]
	r.CDT += v[slotCDT]
	r.IAT += v[slotIAT]
	r.Battery += v[slotBattery]
	r.OAT += v[slotOAT]
	r.FuelUsed += v[slotFuelUsed]
	r.FuelFlow += v[slotFuelFlow]

	r.HPOrRT1.Value += v[slotHPOrRT1]
	r.RT2 += v[slotRT2]
	r.RCLD += v[slotRCLD]
	r.ROil += v[slotROil]
	r.MAP += v[slotMAP]
	r.RPM += v[slotRPM]
	switch r.RPMHighOrRCDT.Kind {
	case TagRPMHigh:
		r.RPM += (v[slotRPMHiRCDT] & 0xFF) << 8
		r.RPMHighOrRCDT.Value = 0
	default:
		r.RPMHighOrRCDT.Value += v[slotRPMHiRCDT]
	}
	r.RIAT += v[slotRIAT]
	r.Unknown44 += v[slotUnk44]
	r.Unknown45 += v[slotUnk45]
	r.RFuelUsed += v[slotRFuelUsed]
	r.RFuelFlow += v[slotRFuelFlow]
}

// updateSpread zeroes EGTs flagged NA and recomputes the max-min spread of
// each engine. An engine with no reporting cylinder has a spread of 0.
func (r *FlightDataRecord) updateSpread() {
	r.Spread[0] = spread(r.EGT, func(i int) bool { return r.NA.Has(egtSlot(i)) })
	if len(r.REGT) > 0 {
		r.Spread[1] = spread(r.REGT, func(i int) bool { return r.NA.Has(slotREGT + i) })
	}
}

func spread(egt []int16, na func(int) bool) int16 {
	var lo, hi int16
	seen := false
	for i := range egt {
		if na(i) {
			egt[i] = 0
			continue
		}
		if !seen || egt[i] < lo {
			lo = egt[i]
		}
		if !seen || egt[i] > hi {
			hi = egt[i]
		}
		seen = true
	}
	if !seen {
		return 0
	}
	return hi - lo
}
