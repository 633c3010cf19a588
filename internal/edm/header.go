package edm

import (
	"fmt"
	"strings"
	"time"
)

// FileHeader is everything the ASCII preamble of an EDM file says about the
// instrument and the flights that follow it.
type FileHeader struct {
	Registration      string             `json:"registration"`
	Alarms            AlarmLimits        `json:"alarms"`
	FuelFlow          FuelFlowConfig     `json:"fuelFlow"`
	Config            DeviceConfig       `json:"config"`
	DownloadTime      time.Time          `json:"downloadTime,omitempty"`
	HasProtocolMarker bool               `json:"hasProtocolMarker"`
	ProtocolMarker    int                `json:"protocolMarker,omitempty"`
	Protocol          Protocol           `json:"protocol"`
	Units             Units              `json:"units"`
	Flights           []FlightIndexEntry `json:"flights"`
	HeaderLen         int                `json:"headerLen"`
	TotalLen          int                `json:"totalLen"`
	Diagnostics       []Diagnostic       `json:"diagnostics,omitempty"`

	byID map[int]int
}

func (h *FileHeader) Features() Features { return h.Config.Features() }

func (h *FileHeader) Engines() int { return h.Config.Engines() }

func (h *FileHeader) Cylinders() int { return h.Features().Cylinders() }

// FlightHeaderSize is the size of one flight header for this file's
// protocol and firmware build.
func (h *FileHeader) FlightHeaderSize() int {
	return h.Protocol.FlightHeaderSize(h.Config.Build)
}

// Flight returns the index entry for the given flight number.
func (h *FileHeader) Flight(id int) (FlightIndexEntry, bool) {
	if h.byID == nil {
		h.index()
	}
	i, ok := h.byID[id]
	if !ok {
		return FlightIndexEntry{}, false
	}
	return h.Flights[i], true
}

// FlightIDs lists flight numbers in file order.
func (h *FileHeader) FlightIDs() []int {
	ids := make([]int, len(h.Flights))
	for i, f := range h.Flights {
		ids[i] = f.ID
	}
	return ids
}

func (h *FileHeader) index() {
	h.byID = make(map[int]int, len(h.Flights))
	for i, f := range h.Flights {
		if _, dup := h.byID[f.ID]; !dup {
			h.byID[f.ID] = i
		}
	}
}

// Summary is a one-line description used by the CLI.
func (h *FileHeader) Summary() string {
	reg := h.Registration
	if reg == "" {
		reg = "-"
	}
	return fmt.Sprintf("%s EDM%d %s sw %d build %d, %d cyl x %d engine(s), %d flights, features %s",
		reg, h.Config.Model, h.Protocol, h.Config.Version, h.Config.Build,
		h.Cylinders(), h.Engines(), len(h.Flights), h.Features())
}

// ParseHeader reads the header lines at the start of data up to and
// including the $L line. Checksum mismatches on individual lines are logged
// and recorded as diagnostics; a structurally broken or unknown line aborts
// the parse.
func ParseHeader(data []byte, opts Options) (*FileHeader, error) {
	opts = opts.withDefaults()
	h := &FileHeader{
		FuelFlow: defaultFuelFlow(),
		Units:    DefaultUnits(),
	}
	pos := 0
	for {
		line, next, err := ScanHeaderLine(data, pos)
		if err != nil {
			opts.Logger.Errorf("header: %v", err)
			return nil, err
		}
		if !line.ChecksumOK {
			d := Diagnostic{
				Severity: SeverityWarning,
				Code:     diagnosticCode(ErrHeaderLineChecksum),
				Offset:   line.Offset,
				Message:  fmt.Sprintf("%s line checksum 0x%02X, computed 0x%02X", line.Type, line.Stored, line.Computed),
			}
			h.Diagnostics = append(h.Diagnostics, d)
			opts.Logger.Warnf("header: %s", d.Message)
			opts.Metrics.IncChecksumWarning()
		}
		opts.Logger.Tracef("header: %s %s", line.Type, strings.Join(line.Fields, ","))
		h.apply(line, opts)
		pos = next
		if line.Type == LineLast {
			break
		}
	}

	h.Protocol = ResolveProtocol(h.Config.Model, h.Config.Build, h.Config.HasBuild, h.HasProtocolMarker)
	if h.Protocol == ProtocolV1 {
		h.Alarms.VoltsHigh /= 10
		h.Alarms.VoltsLow /= 10
	}
	h.Units = deriveUnits(h.FuelFlow, h.Config)

	h.HeaderLen = pos
	offset := pos
	for i := range h.Flights {
		h.Flights[i].Offset = offset
		offset += h.Flights[i].SizeBytes()
	}
	h.TotalLen = offset - pos
	h.index()
	if offset > len(data) {
		h.warn(offset, fmt.Sprintf("flight index covers %d bytes, file has %d", offset, len(data)), opts)
	}
	opts.Logger.Infof("header: %s", h.Summary())
	return h, nil
}

func (h *FileHeader) apply(line HeaderLine, opts Options) {
	var ok bool
	switch line.Type {
	case LineRegistration:
		h.Registration, ok = parseRegistration(line)
	case LineAlarms:
		h.Alarms, ok = parseAlarms(line)
	case LineFuelFlow:
		h.FuelFlow, ok = parseFuelFlow(line)
	case LineTimestamp:
		h.DownloadTime, ok = parseTimestamp(line, opts.Location)
	case LineConfig:
		h.Config, ok = parseConfig(line)
	case LineProtocol:
		h.HasProtocolMarker = true
		if len(line.Fields) > 0 {
			h.ProtocolMarker = atoiOr(line.Fields[0], 0)
		}
		ok = true
	case LineFlight:
		var e FlightIndexEntry
		e, ok = parseFlightEntry(line)
		h.Flights = append(h.Flights, e)
	case LineFuelLevel, LineCarb, LineLast:
		ok = true
	}
	if !ok {
		h.warn(line.Offset, fmt.Sprintf("%s line has unexpected field count %d", line.Type, len(line.Fields)), opts)
	}
}

func (h *FileHeader) warn(offset int, msg string, opts Options) {
	h.Diagnostics = append(h.Diagnostics, Diagnostic{
		Severity: SeverityWarning,
		Code:     "header-field",
		Offset:   offset,
		Message:  msg,
	})
	opts.Logger.Warnf("header: %s", msg)
}
