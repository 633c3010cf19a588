package edm

import (
	"testing"
	"time"
)

func TestLowByteSlot(t *testing.T) {
	tests := []struct {
		slot int
		high bool
		low  int
	}{
		{slot: 48, high: true, low: 0},
		{slot: 55, high: true, low: 7},
		{slot: 56, high: true, low: 24},
		{slot: 63, high: true, low: 31},
		{slot: 42, high: true, low: 41},
		{slot: 41, high: false, low: 41},
		{slot: 64, high: false, low: 64},
	}
	for _, tc := range tests {
		if got := isHighByteSlot(tc.slot); got != tc.high {
			t.Fatalf("isHighByteSlot(%d) = %v, want %v", tc.slot, got, tc.high)
		}
		if got := lowByteSlot(tc.slot); got != tc.low {
			t.Fatalf("lowByteSlot(%d) = %d, want %d", tc.slot, got, tc.low)
		}
	}
}

func TestSampleChecksum(t *testing.T) {
	b := []byte{0x01, 0x02, 0xF0}
	if got := sampleChecksum(b, false); got != 0xF3 {
		t.Fatalf("xor checksum = 0x%02X, want 0xF3", got)
	}
	if got := sampleChecksum(b, true); got != 0x0D {
		t.Fatalf("additive checksum = 0x%02X, want 0x0D", got)
	}
	if got := headerChecksum([]uint16{0x0102, 0x00F0}); got != 0x0D {
		t.Fatalf("header checksum = 0x%02X, want 0x0D", got)
	}
}

func TestSpreadSkipsNA(t *testing.T) {
	egt := []int16{1300, 1500, 1200}
	got := spread(egt, func(i int) bool { return i == 1 })
	if got != 100 {
		t.Fatalf("spread = %d, want 100", got)
	}
	if egt[1] != 0 {
		t.Fatalf("NA cylinder not zeroed: %v", egt)
	}
	if got := spread([]int16{5, 6}, func(int) bool { return true }); got != 0 {
		t.Fatalf("all-NA spread = %d, want 0", got)
	}
}

func TestCylinderNA(t *testing.T) {
	r := newRecord(time.Time{}, 2, 4, FeatureOil|FeatureBattery, VariantFor(ProtocolV4))
	r.NA.Set(slotCHT + 2)
	r.NA.Set(slotREGT + 1)
	if !r.CHTNA(0, 2) || r.CHTNA(0, 1) || !r.EGTNA(1, 1) || r.EGTNA(0, 1) {
		t.Fatalf("cylinder NA flags wrong: %v", r.NA)
	}
}
