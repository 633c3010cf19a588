// Package edmtest builds small, deterministic EDM files for tests and demos.
// Every checksum is computed the way the instrument does it; individual
// samples can be corrupted on request.
package edmtest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Layout describes the binary geometry of a protocol generation.
type Layout struct {
	DecodeFlagBytes int
	HeaderWords     int
}

var (
	LayoutV1 = Layout{DecodeFlagBytes: 2, HeaderWords: 7}
	LayoutV3 = Layout{DecodeFlagBytes: 4, HeaderWords: 9}
	LayoutV4 = Layout{DecodeFlagBytes: 4, HeaderWords: 10}
)

func (l Layout) valueFlagBytes() int {
	if l.DecodeFlagBytes == 2 {
		return 8
	}
	return 16
}

// Line returns a complete `$K,f1,f2*HH\r\n` header line.
func Line(kind byte, fields ...string) []byte {
	body := string(kind)
	if len(fields) > 0 {
		body += "," + strings.Join(fields, ",")
	}
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, LineChecksum(body)))
}

// LineChecksum XORs every byte between '$' and '*'.
func LineChecksum(body string) uint8 {
	var cs uint8
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return cs
}

// Sample is one compressed record. Deltas maps a sensor slot to the signed
// change since the previous record; magnitudes above 255 are split into the
// matching high-byte slot. NA slots are transmitted as zero.
type Sample struct {
	Repeat      int8
	Deltas      map[int]int
	NA          []int
	BadChecksum bool
}

// Flight is one flight block.
type Flight struct {
	ID       int
	Features uint32
	Unknown  uint16
	Interval int
	Start    time.Time
	Samples  []Sample

	CorruptHeader bool
	// Trailing bytes appended after the samples, before word padding.
	Trailer []byte
}

// File is a whole EDM download.
type File struct {
	Layout         Layout
	Registration   string
	Alarms         []int
	FuelFlow       []int
	Downloaded     time.Time
	Model          int
	Features       uint32
	Unknown        int
	Version        int
	BuildNumber    int
	Beta           int
	ProtocolMarker bool
	Flights        []Flight
}

// Additive reports whether samples use the two's complement checksum.
func (f File) Additive() bool { return f.Version >= 300 }

// Build renders the file. Flight sizes in the $D lines are computed from
// the rendered blocks.
func (f File) Build() []byte {
	blocks := make([][]byte, len(f.Flights))
	for i, fl := range f.Flights {
		blocks[i] = f.flightBlock(fl)
	}

	var buf bytes.Buffer
	if f.Registration != "" {
		buf.Write(Line('U', f.Registration))
	}
	if len(f.Alarms) > 0 {
		buf.Write(Line('A', ints(f.Alarms)...))
	}
	if len(f.FuelFlow) > 0 {
		buf.Write(Line('F', ints(f.FuelFlow)...))
	}
	if !f.Downloaded.IsZero() {
		d := f.Downloaded
		buf.Write(Line('T', ints([]int{int(d.Month()), d.Day(), d.Year() % 100, d.Hour(), d.Minute(), 0})...))
	}
	cfg := []int{f.Model, int(f.Features & 0xFFFF), int(f.Features >> 16), f.Unknown, f.Version}
	if f.BuildNumber > 0 {
		cfg = append(cfg, f.BuildNumber, f.Beta)
	}
	buf.Write(Line('C', ints(cfg)...))
	if f.ProtocolMarker {
		buf.Write(Line('P', "2"))
	}
	for i, fl := range f.Flights {
		buf.Write(Line('D', strconv.Itoa(fl.ID), strconv.Itoa(len(blocks[i])/2)))
	}
	buf.Write(Line('L', "0"))
	for _, b := range blocks {
		buf.Write(b)
	}
	return buf.Bytes()
}

func (f File) flightBlock(fl Flight) []byte {
	words := make([]uint16, f.Layout.HeaderWords)
	words[0] = uint16(fl.ID)
	words[1] = uint16(fl.Features)
	words[2] = uint16(fl.Features >> 16)
	words[3] = fl.Unknown
	words[4] = uint16(fl.Interval)
	words[5], words[6] = PackDate(fl.Start)

	var buf bytes.Buffer
	var sum uint8
	for _, w := range words {
		binary.Write(&buf, binary.BigEndian, w)
		sum += uint8(w) + uint8(w>>8)
	}
	cs := -sum
	if fl.CorruptHeader {
		cs++
	}
	buf.WriteByte(cs)
	for _, s := range fl.Samples {
		buf.Write(f.EncodeSample(s))
	}
	buf.Write(fl.Trailer)
	if buf.Len()%2 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// PackDate returns the date and time words of a flight header.
func PackDate(t time.Time) (uint16, uint16) {
	d := uint16(t.Year()-2000)<<9 | uint16(t.Month())<<5 | uint16(t.Day())
	tm := uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return d, tm
}

// EncodeSample renders one compressed sample for the file's layout.
func (f File) EncodeSample(s Sample) []byte {
	nvf := f.Layout.valueFlagBytes()
	valueFlags := make([]byte, nvf)
	signFlags := make([]byte, nvf)
	values := map[int]byte{}
	put := func(slot int, b byte) {
		if slot/8 >= nvf {
			panic(fmt.Sprintf("edmtest: slot %d outside %d value flag bytes", slot, nvf))
		}
		valueFlags[slot/8] |= 1 << uint(slot%8)
		values[slot] = b
	}

	for slot, d := range s.Deltas {
		mag := d
		if d < 0 {
			mag = -d
			signFlags[slot/8] |= 1 << uint(slot%8)
		}
		low, high := byte(mag), mag>>8
		if low == 0 || high > 0xFF {
			panic(fmt.Sprintf("edmtest: delta %d for slot %d cannot be encoded", d, slot))
		}
		put(slot, low)
		if high > 0 {
			put(HighByteSlot(slot), byte(high))
		}
	}
	for _, slot := range s.NA {
		put(slot, 0)
	}

	var decode uint32
	for i := 0; i < nvf; i++ {
		if valueFlags[i] != 0 || signFlags[i] != 0 {
			decode |= 1 << uint(i)
		}
	}

	var out bytes.Buffer
	if f.Layout.DecodeFlagBytes == 2 {
		binary.Write(&out, binary.BigEndian, uint16(decode))
	} else {
		binary.Write(&out, binary.BigEndian, decode)
	}
	out.WriteByte(byte(s.Repeat))
	for i := 0; i < nvf; i++ {
		if decode&(1<<uint(i)) != 0 {
			out.WriteByte(valueFlags[i])
		}
	}
	for i := 0; i < nvf; i++ {
		if i != 6 && i != 7 && decode&(1<<uint(i)) != 0 {
			out.WriteByte(signFlags[i])
		}
	}
	slots := make([]int, 0, len(values))
	for slot := range values {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	for _, slot := range slots {
		out.WriteByte(values[slot])
	}

	cs := checksum(out.Bytes(), f.Additive())
	if s.BadChecksum {
		cs ^= 0x5A
	}
	out.WriteByte(cs)
	return out.Bytes()
}

// HighByteSlot returns the slot carrying the high byte of slot.
func HighByteSlot(slot int) int {
	switch {
	case slot >= 0 && slot < 8:
		return slot + 48
	case slot >= 24 && slot < 32:
		return slot + 32
	case slot == 41:
		return 42
	default:
		panic(fmt.Sprintf("edmtest: slot %d has no high byte", slot))
	}
}

func checksum(b []byte, additive bool) uint8 {
	var cs uint8
	for _, c := range b {
		if additive {
			cs += c
		} else {
			cs ^= c
		}
	}
	if additive {
		return -cs
	}
	return cs
}

// CylinderFeatures returns the CHT and EGT bits for n cylinders.
func CylinderFeatures(n int) uint32 {
	var f uint32
	for i := 0; i < n; i++ {
		f |= 1<<uint(2+i) | 1<<uint(11+i)
	}
	return f
}

func ints(v []int) []string {
	out := make([]string, len(v))
	for i, n := range v {
		out[i] = strconv.Itoa(n)
	}
	return out
}
