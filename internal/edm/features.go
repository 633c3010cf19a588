package edm

import (
	"math/bits"
	"strconv"
	"strings"
)

// Features is the 32-bit sensor mask carried by the $C line and repeated in
// every flight header.
//
//	bit  0     battery
//	bits 2-10  CHT per cylinder
//	bits 11-19 EGT per cylinder
//	bit  20    oil temperature
//	bit  21/22 TIT 1/2
//	bit  23    carburettor / CDT
//	bit  24    induction air
//	bit  25    outside air
//	bit  26    RPM
//	bit  27    fuel flow
//	bit  28    CLD (engine temperatures in Fahrenheit)
//	bit  30    manifold pressure
type Features uint32

const (
	FeatureBattery Features = 1 << 0
	FeatureOil     Features = 1 << 20
	FeatureTIT     Features = 1 << 21
	FeatureTIT2    Features = 1 << 22
	FeatureCarb    Features = 1 << 23
	FeatureIAT     Features = 1 << 24
	FeatureOAT     Features = 1 << 25
	FeatureRPM     Features = 1 << 26
	FeatureFF      Features = 1 << 27
	FeatureCLD     Features = 1 << 28
	FeatureMAP     Features = 1 << 30

	chtMask Features = 0x1FF << 2
	egtMask Features = 0x1FF << 11
)

func FeaturesFromWords(low, high uint16) Features {
	return Features(uint32(high)<<16 | uint32(low))
}

func (f Features) Has(x Features) bool { return f&x == x }

// Cylinders counts the CHT cylinder bits.
func (f Features) Cylinders() int {
	return bits.OnesCount32(uint32(f & chtMask))
}

func (f Features) EGTCylinders() int {
	return bits.OnesCount32(uint32(f & egtMask))
}

func (f Features) String() string {
	var parts []string
	if n := f.Cylinders(); n > 0 {
		parts = append(parts, "cht"+strconv.Itoa(n))
	}
	if n := f.EGTCylinders(); n > 0 {
		parts = append(parts, "egt"+strconv.Itoa(n))
	}
	names := []struct {
		bit  Features
		name string
	}{
		{FeatureBattery, "bat"},
		{FeatureOil, "oil"},
		{FeatureTIT, "tit"},
		{FeatureTIT2, "tit2"},
		{FeatureCarb, "cdt"},
		{FeatureIAT, "iat"},
		{FeatureOAT, "oat"},
		{FeatureRPM, "rpm"},
		{FeatureFF, "ff"},
		{FeatureCLD, "cld"},
		{FeatureMAP, "map"},
	}
	for _, n := range names {
		if f.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
