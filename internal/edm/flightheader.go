package edm

import (
	"encoding/binary"
	"fmt"
	"time"
)

// FlightHeader is the binary header at the start of each flight block. The
// alarm, fuel and unit settings are copied from the file header so a flight
// can be handled on its own.
type FlightHeader struct {
	ID           int            `json:"id"`
	Features     Features       `json:"features"`
	Unknown      uint16         `json:"unknown"`
	Interval     int            `json:"interval"`
	Date         time.Time      `json:"date"`
	Words        []uint16       `json:"words"`
	Checksum     uint8          `json:"checksum"`
	Offset       int            `json:"offset"`
	Registration string         `json:"registration"`
	Alarms       AlarmLimits    `json:"alarms"`
	FuelFlow     FuelFlowConfig `json:"fuelFlow"`
	Units        Units          `json:"units"`
}

func (fh FlightHeader) String() string {
	return fmt.Sprintf("flight %d %s interval %ds features %s",
		fh.ID, fh.Date.Format("2006-01-02 15:04:05"), fh.Interval, fh.Features)
}

// headerChecksum is the two's complement of the byte sum of the words.
func headerChecksum(words []uint16) uint8 {
	var sum uint8
	for _, w := range words {
		sum += uint8(w) + uint8(w>>8)
	}
	return -sum
}

// locateFlight finds where the flight header really starts. Offsets derived
// from the $D sizes can be off by one byte, so the recorded offset is checked
// against its neighbours by peeking at the flight id word.
func locateFlight(data []byte, offset, id int) int {
	for _, cand := range []int{offset - 1, offset, offset + 1} {
		if cand < 0 || cand+2 > len(data) {
			continue
		}
		if int(binary.BigEndian.Uint16(data[cand:cand+2])) == id {
			return cand
		}
	}
	return offset
}

// decodeFlightHeader reads the header of the flight block described by entry
// and returns it together with the offset of the first sample byte.
func decodeFlightHeader(h *FileHeader, data []byte, entry FlightIndexEntry, loc *time.Location) (FlightHeader, int, error) {
	var fh FlightHeader
	id := entry.ID
	pos := locateFlight(data, entry.Offset, id)
	fh.Offset = pos
	nwords := h.Protocol.HeaderWords(h.Config.Build)
	size := nwords*2 + 1
	if pos < 0 || pos+size > len(data) {
		return fh, pos, flightError("flight header", id, pos,
			fmt.Errorf("%w: need %d header bytes, have %d", ErrInsufficientBytes, size, max(len(data)-pos, 0)))
	}

	fh.Words = make([]uint16, nwords)
	for i := range fh.Words {
		fh.Words[i] = binary.BigEndian.Uint16(data[pos+2*i:])
	}
	fh.Checksum = data[pos+2*nwords]
	if calc := headerChecksum(fh.Words); calc != fh.Checksum {
		return fh, pos, flightError("flight header", id, pos,
			fmt.Errorf("%w: stored 0x%02X, computed 0x%02X", ErrFlightHeaderChecksum, fh.Checksum, calc))
	}

	fh.ID = int(fh.Words[0])
	fh.Features = FeaturesFromWords(fh.Words[1], fh.Words[2])
	fh.Unknown = fh.Words[3]
	fh.Interval = int(fh.Words[4])
	fh.Date = decodeFlightDate(fh.Words[5], fh.Words[6], loc)
	fh.Registration = h.Registration
	fh.Alarms = h.Alarms
	fh.FuelFlow = h.FuelFlow
	fh.Units = h.Units

	if fh.ID != id {
		return fh, pos, flightError("flight header", id, pos,
			fmt.Errorf("%w: header says %d", ErrFlightIDMismatch, fh.ID))
	}
	return fh, pos + size, nil
}

// decodeFlightDate unpacks the DOS-style date and time words:
// date = yyyyyyy mmmm ddddd, time = hhhhh mmmmmm sssss (seconds / 2).
func decodeFlightDate(d, t uint16, loc *time.Location) time.Time {
	day := int(d & 0x1F)
	month := int(d>>5) & 0x0F
	year := int(d>>9) + 2000
	sec := int(t&0x1F) * 2
	minute := int(t>>5) & 0x3F
	hour := int(t >> 11)
	return time.Date(year, time.Month(month), day, hour, minute, sec, 0, loc)
}
