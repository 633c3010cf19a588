// Package bitfield provides a small fixed-width bit vector backed by two
// machine words. EDM samples carry flag words of 16, 32, 64 and 128 bits and
// the width is only known once the protocol variant has been resolved.
package bitfield

import (
	"math/bits"
	"strings"
)

const MaxWidth = 128

// Field is a bit vector of up to MaxWidth bits. Bits 0..63 live in the low
// word and bits 64..127 in the high word. Operations on bits outside the
// width are no-ops.
type Field struct {
	lo    uint64
	hi    uint64
	width int
}

// New returns an empty field of the given width, clamped to 0..MaxWidth.
func New(width int) Field {
	if width < 0 {
		width = 0
	}
	if width > MaxWidth {
		width = MaxWidth
	}
	return Field{width: width}
}

// FromUint64 returns a field of the given width whose low bits are v.
// Bits of v beyond the width are discarded.
func FromUint64(v uint64, width int) Field {
	f := New(width)
	f.lo = v & f.mask(0)
	return f
}

func (f Field) Width() int { return f.width }

// Bytes returns the number of whole bytes covered by the field.
func (f Field) Bytes() int { return f.width / 8 }

func (f Field) Low() uint64  { return f.lo }
func (f Field) High() uint64 { return f.hi }

func (f Field) IsZero() bool { return f.lo == 0 && f.hi == 0 }

func (f Field) OnesCount() int {
	return bits.OnesCount64(f.lo) + bits.OnesCount64(f.hi)
}

func (f Field) Has(i int) bool {
	if i < 0 || i >= f.width {
		return false
	}
	if i < 64 {
		return f.lo&(1<<uint(i)) != 0
	}
	return f.hi&(1<<uint(i-64)) != 0
}

func (f *Field) Set(i int) {
	if i < 0 || i >= f.width {
		return
	}
	if i < 64 {
		f.lo |= 1 << uint(i)
		return
	}
	f.hi |= 1 << uint(i-64)
}

func (f *Field) Clear(i int) {
	if i < 0 || i >= f.width {
		return
	}
	if i < 64 {
		f.lo &^= 1 << uint(i)
		return
	}
	f.hi &^= 1 << uint(i-64)
}

// SetByte overwrites bits 8i..8i+7 with v. Byte indexes 0..7 address the
// low word and 8..15 the high word.
func (f *Field) SetByte(i int, v uint8) {
	if i < 0 || (i+1)*8 > f.width {
		return
	}
	shift := uint(i%8) * 8
	if i < 8 {
		f.lo = f.lo&^(0xFF<<shift) | uint64(v)<<shift
		return
	}
	f.hi = f.hi&^(0xFF<<shift) | uint64(v)<<shift
}

// Byte returns bits 8i..8i+7, or 0 outside the width.
func (f Field) Byte(i int) uint8 {
	if i < 0 || (i+1)*8 > f.width {
		return 0
	}
	shift := uint(i%8) * 8
	if i < 8 {
		return uint8(f.lo >> shift)
	}
	return uint8(f.hi >> shift)
}

// mask returns the valid bits of word w (0 low, 1 high).
func (f Field) mask(w int) uint64 {
	n := f.width - 64*w
	switch {
	case n <= 0:
		return 0
	case n >= 64:
		return ^uint64(0)
	default:
		return (uint64(1) << uint(n)) - 1
	}
}

// String renders the field most significant bit first.
func (f Field) String() string {
	var b strings.Builder
	b.Grow(f.width)
	for i := f.width - 1; i >= 0; i-- {
		if f.Has(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
