package edm

import "strconv"

// Protocol is the on-disk layout generation of an EDM file.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolV1
	ProtocolV2
	ProtocolV3
	ProtocolV4
	ProtocolV5
)

const (
	modelTwin        = 760
	modelV5          = 960
	modelExtended    = 900
	buildExtendedHdr = 108
)

// ResolveProtocol picks the layout from the $C model and build and whether
// a $P line was present. The build only matters for models 900 and up.
func ResolveProtocol(model, build int, hasBuild, hasMarker bool) Protocol {
	switch {
	case model == modelTwin:
		return ProtocolV2
	case model == modelV5:
		return ProtocolV5
	case model >= modelExtended:
		if hasBuild && build >= buildExtendedHdr {
			return ProtocolV4
		}
		return ProtocolV3
	case hasMarker:
		return ProtocolV4
	default:
		return ProtocolV1
	}
}

func (p Protocol) String() string {
	if p == ProtocolUnknown {
		return "unknown"
	}
	return "v" + strconv.Itoa(int(p))
}

// Legacy reports the narrow V1/V2 layout: 16-bit decode flags and
// 64-bit value flags.
func (p Protocol) Legacy() bool {
	return p == ProtocolV1 || p == ProtocolV2
}

// HeaderWords is the number of 16-bit words in a flight header, excluding
// the trailing checksum byte.
func (p Protocol) HeaderWords(build int) int {
	switch p {
	case ProtocolV3:
		return 9
	case ProtocolV4:
		return 10
	case ProtocolV5:
		if build >= buildExtendedHdr {
			return 10
		}
		return 9
	default:
		return 7
	}
}

// FlightHeaderSize is the flight header length in bytes.
func (p Protocol) FlightHeaderSize(build int) int {
	return p.HeaderWords(build)*2 + 1
}

func (p Protocol) DecodeFlagBits() int {
	if p.Legacy() {
		return 16
	}
	return 32
}

func (p Protocol) ValueFlagBits() int {
	if p.Legacy() {
		return 64
	}
	return 128
}

// MinSampleSize is the number of bytes that must remain for another sample
// to be attempted: the decode flags and the repeat count.
func (p Protocol) MinSampleSize() int {
	return p.DecodeFlagBits()/8 + 1
}
