package edm

import (
	"fmt"

	"example.com/edmgate/internal/bitfield"
)

// rawSample is one compressed sample after the flag words and deltas have
// been read, before it is folded into the running record.
type rawSample struct {
	decodeFlags bitfield.Field
	repeatCount int8
	valueFlags  bitfield.Field
	signFlags   bitfield.Field
	values      [bitfield.MaxWidth]int16
}

// isHighByteSlot reports whether slot carries the high byte of another slot.
func isHighByteSlot(i int) bool {
	return (i >= 48 && i < 64) || i == slotRPMHiRCDT
}

// lowByteSlot returns the slot a high byte belongs to.
func lowByteSlot(i int) int {
	switch {
	case i >= 48 && i < 56:
		return i - 48
	case i >= 56 && i < 64:
		return i - 32
	case i == slotRPMHiRCDT:
		return slotRPM
	default:
		return i
	}
}

// decompressor reads samples of one flight. It is not shared between
// flights.
type decompressor struct {
	data      []byte
	end       int
	protocol  Protocol
	additive  bool
	engines   int
	cylinders int
}

func newDecompressor(h *FileHeader, data []byte, end int) *decompressor {
	return &decompressor{
		data:      data,
		end:       end,
		protocol:  h.Protocol,
		additive:  h.Config.Version >= 300,
		engines:   h.Engines(),
		cylinders: h.Cylinders(),
	}
}

type sampleReader struct {
	data []byte
	pos  int
	end  int
}

func (r *sampleReader) readByte() (uint8, error) {
	if r.pos >= r.end {
		return 0, ErrInsufficientBytes
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// sampleChecksum folds the sample bytes the way the firmware version does:
// two's complement of the sum from version 3.00 on, XOR before that.
func sampleChecksum(b []byte, additive bool) uint8 {
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

// next decodes the sample at pos into a copy of prev and returns the new
// record along with the offset of the following sample.
func (d *decompressor) next(pos int, prev FlightDataRecord) (FlightDataRecord, int, error) {
	rec := prev.Clone()
	rec.Repeated = false
	rd := &sampleReader{data: d.data, pos: pos, end: d.end}
	raw := rawSample{
		decodeFlags: bitfield.New(d.protocol.DecodeFlagBits()),
		valueFlags:  bitfield.New(d.protocol.ValueFlagBits()),
		signFlags:   bitfield.New(d.protocol.ValueFlagBits()),
	}
	fail := func(err error) (FlightDataRecord, int, error) {
		return prev, rd.pos, fmt.Errorf("%w: sample at offset %d", err, pos)
	}

	var flags uint64
	for i := 0; i < raw.decodeFlags.Bytes(); i++ {
		b, err := rd.readByte()
		if err != nil {
			return fail(err)
		}
		flags = flags<<8 | uint64(b)
	}
	raw.decodeFlags = bitfield.FromUint64(flags, raw.decodeFlags.Width())

	rc, err := rd.readByte()
	if err != nil {
		return fail(err)
	}
	raw.repeatCount = int8(rc)

	for i := 0; i < raw.valueFlags.Bytes(); i++ {
		if !raw.decodeFlags.Has(i) {
			continue
		}
		b, err := rd.readByte()
		if err != nil {
			return fail(err)
		}
		raw.valueFlags.SetByte(i, b)
	}
	for i := 0; i < raw.signFlags.Bytes(); i++ {
		if i == 6 || i == 7 || !raw.decodeFlags.Has(i) {
			continue
		}
		b, err := rd.readByte()
		if err != nil {
			return fail(err)
		}
		raw.signFlags.SetByte(i, b)
	}

	for i := 0; i < raw.valueFlags.Width(); i++ {
		if !raw.valueFlags.Has(i) {
			continue
		}
		b, err := rd.readByte()
		if err != nil {
			return fail(err)
		}
		if b == 0 {
			if !isHighByteSlot(i) {
				rec.NA.Set(i)
			}
			continue
		}
		rec.NA.Clear(i)
		if isHighByteSlot(i) {
			j := lowByteSlot(i)
			raw.values[j] += signOf(raw.signFlags, j) * (int16(b) << 8)
		} else {
			raw.values[i] += signOf(raw.signFlags, i) * int16(b)
		}
	}

	if d.engines == 1 {
		if raw.signFlags.Has(slotRPM) {
			raw.values[slotRPMHiRCDT] = -raw.values[slotRPMHiRCDT]
		}
		if raw.values[slotRPMHiRCDT] != 0 {
			rec.NA.Clear(slotRPMHiRCDT)
		}
	}

	rec.RepeatCount = int(raw.repeatCount)
	if !(d.engines > 1 && d.cylinders > cylindersPerBank) {
		rec.accumulate(&raw.values)
		rec.updateSpread()
	}

	stored, err := rd.readByte()
	if err != nil {
		return fail(err)
	}
	if calc := sampleChecksum(d.data[pos:rd.pos-1], d.additive); calc != stored {
		return fail(fmt.Errorf("%w: stored 0x%02X, computed 0x%02X", ErrSampleChecksum, stored, calc))
	}
	return rec, rd.pos, nil
}

func signOf(f bitfield.Field, i int) int16 {
	if f.Has(i) {
		return -1
	}
	return 1
}
