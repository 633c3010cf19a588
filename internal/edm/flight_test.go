package edm

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"example.com/edmgate/internal/edmtest"
)

func decodeFixture(t *testing.T, f edmtest.File, id int) (*FlightData, error) {
	t.Helper()
	data := f.Build()
	h, err := ParseHeader(data, Options{})
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	return DecodeFlight(h, data, id, Options{})
}

func TestDecodeFlightLegacy(t *testing.T) {
	fd, err := decodeFixture(t, legacyFile(), 1)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	if !fd.Valid {
		t.Fatalf("flight not valid")
	}
	if fd.Header.ID != 1 || fd.Header.Interval != 6 || !fd.Header.Date.Equal(fixtureStart) {
		t.Fatalf("Header = %s", fd.Header)
	}
	if fd.Header.Registration != "N12345" {
		t.Fatalf("Header.Registration = %q", fd.Header.Registration)
	}
	if len(fd.Records) != 5 {
		t.Fatalf("records = %d, want 5", len(fd.Records))
	}

	wantTimes := []int{0, 6, 12, 18, 24}
	for i, sec := range wantTimes {
		want := fixtureStart.Add(time.Duration(sec) * time.Second)
		if !fd.Records[i].Time.Equal(want) {
			t.Fatalf("record %d time = %v, want %v", i, fd.Records[i].Time, want)
		}
	}

	first := fd.Records[0]
	if got, want := first.EGT, []int16{1350, 1360, 1340, 1370}; !equalInt16(got, want) {
		t.Fatalf("record 0 EGT = %v, want %v", got, want)
	}
	if got, want := first.CHT, []int16{250, 240, 230, 245}; !equalInt16(got, want) {
		t.Fatalf("record 0 CHT = %v, want %v", got, want)
	}
	if first.Battery != 140 || !first.HasBattery {
		t.Fatalf("record 0 battery = %d has=%v", first.Battery, first.HasBattery)
	}
	if first.Spread[0] != 30 {
		t.Fatalf("record 0 spread = %d, want 30", first.Spread[0])
	}

	second := fd.Records[1]
	if got, want := second.EGT, []int16{1360, 1355, 1343, 1368}; !equalInt16(got, want) {
		t.Fatalf("record 1 EGT = %v, want %v", got, want)
	}
	if second.RepeatCount != 2 || second.Repeated {
		t.Fatalf("record 1 repeat = %d repeated=%v", second.RepeatCount, second.Repeated)
	}
	for _, i := range []int{2, 3} {
		if !fd.Records[i].Repeated || !equalInt16(fd.Records[i].EGT, second.EGT) {
			t.Fatalf("record %d is not a repeat of record 1: %+v", i, fd.Records[i])
		}
	}
	fd.Records[2].EGT[0] = -1
	if fd.Records[1].EGT[0] == -1 || fd.Records[3].EGT[0] == -1 {
		t.Fatalf("repeated records share EGT storage")
	}

	last := fd.Records[4]
	if !last.IsNA(3) {
		t.Fatalf("record 4 cylinder 4 not flagged NA (mask %#x)", last.NAMask())
	}
	if got, want := last.EGT, []int16{1356, 1355, 1343, 0}; !equalInt16(got, want) {
		t.Fatalf("record 4 EGT = %v, want %v", got, want)
	}
	if last.Spread[0] != 13 {
		t.Fatalf("record 4 spread = %d, want 13", last.Spread[0])
	}
	if !fd.HasNA {
		t.Fatalf("HasNA = false")
	}
	if fd.Duration() != 24*time.Second {
		t.Fatalf("Duration = %v", fd.Duration())
	}
}

func TestDecodeFlightExtended(t *testing.T) {
	fd, err := decodeFixture(t, extendedFile(), 7)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	if len(fd.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(fd.Records))
	}
	r0, r1 := fd.Records[0], fd.Records[1]
	if r0.RPM != 2400 || r1.RPM != 2300 {
		t.Fatalf("RPM = %d, %d; want 2400, 2300", r0.RPM, r1.RPM)
	}
	if r0.HPOrRT1.Kind != TagHorsepower || r1.HPOrRT1.Value != 80 {
		t.Fatalf("HPOrRT1 = %+v", r1.HPOrRT1)
	}
	if r1.RPMHighOrRCDT.Kind != TagRPMHigh || r1.RPMHighOrRCDT.Value != 0 {
		t.Fatalf("RPMHighOrRCDT = %+v", r1.RPMHighOrRCDT)
	}
	if r0.OAT != 15 || r1.OAT != -5 {
		t.Fatalf("OAT = %d, %d; want 15, -5", r0.OAT, r1.OAT)
	}
	if r1.MAP != 245 || r1.FuelFlow != 120 {
		t.Fatalf("MAP/FF = %d/%d", r1.MAP, r1.FuelFlow)
	}
	if r1.EGT[0] != 1300 || r1.EGT[5] != 1290 || r1.CHT[5] != 180 {
		t.Fatalf("EGT = %v CHT = %v", r1.EGT, r1.CHT)
	}
	if !r0.HasRPM || !r0.HasOAT || !r0.HasMAP || r0.HasIAT {
		t.Fatalf("has flags = %+v", r0)
	}
	if !r1.Time.Equal(fixtureStart.Add(time.Second)) {
		t.Fatalf("record 1 time = %v", r1.Time)
	}
}

func TestDecodeFlightProtocolVariants(t *testing.T) {
	tests := []struct {
		name   string
		layout edmtest.Layout
		model  int
		build  int
		marker bool
		want   Protocol
	}{
		{name: "900 without build", layout: edmtest.LayoutV3, model: 900, want: ProtocolV3},
		{name: "930 old build", layout: edmtest.LayoutV3, model: 930, build: 107, want: ProtocolV3},
		{name: "830 with marker", layout: edmtest.LayoutV4, model: 830, marker: true, want: ProtocolV4},
		{name: "960 old build", layout: edmtest.LayoutV3, model: 960, build: 100, want: ProtocolV5},
		{name: "960 new build", layout: edmtest.LayoutV4, model: 960, build: 108, want: ProtocolV5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := extendedFile()
			f.Layout = tc.layout
			f.Model = tc.model
			f.BuildNumber = tc.build
			f.ProtocolMarker = tc.marker
			data := f.Build()
			h, err := ParseHeader(data, Options{})
			if err != nil {
				t.Fatalf("ParseHeader: %v", err)
			}
			if h.Protocol != tc.want {
				t.Fatalf("protocol = %s, want %s", h.Protocol, tc.want)
			}
			if h.HeaderLen+h.TotalLen != len(data) {
				t.Fatalf("header %d + flights %d != %d bytes", h.HeaderLen, h.TotalLen, len(data))
			}
			fd, err := DecodeFlight(h, data, 7, Options{})
			if err != nil {
				t.Fatalf("DecodeFlight: %v", err)
			}
			if len(fd.Header.Words) != tc.layout.HeaderWords {
				t.Fatalf("header words = %d, want %d", len(fd.Header.Words), tc.layout.HeaderWords)
			}
			if len(fd.Records) != 2 {
				t.Fatalf("records = %d, want 2", len(fd.Records))
			}
			r0, r1 := fd.Records[0], fd.Records[1]
			if r0.RPM != 2400 || r1.RPM != 2300 || r1.OAT != -5 {
				t.Fatalf("RPM = %d, %d OAT = %d", r0.RPM, r1.RPM, r1.OAT)
			}
			if r1.EGT[0] != 1300 || r1.EGT[5] != 1290 || r1.CHT[5] != 180 {
				t.Fatalf("EGT = %v CHT = %v", r1.EGT, r1.CHT)
			}
		})
	}
}

func TestDecodeFlightMarkChangesInterval(t *testing.T) {
	f := legacyFile()
	f.Flights = []edmtest.Flight{{
		ID:       1,
		Features: fixtureFeatures,
		Interval: 6,
		Start:    fixtureStart,
		Samples: []edmtest.Sample{
			{Deltas: map[int]int{0: 1000, 16: 2}},
			{Deltas: map[int]int{0: 1}},
			{Deltas: map[int]int{16: 1}},
			{Deltas: map[int]int{0: 1}},
		},
	}}
	fd, err := decodeFixture(t, f, 1)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	want := []int{0, 1, 2, 8}
	if len(fd.Records) != len(want) {
		t.Fatalf("records = %d, want %d", len(fd.Records), len(want))
	}
	for i, sec := range want {
		if got := fd.Records[i].Time.Sub(fixtureStart); got != time.Duration(sec)*time.Second {
			t.Fatalf("record %d offset = %v, want %ds", i, got, sec)
		}
	}
}

func TestDecodeFlightNegativeRepeat(t *testing.T) {
	f := legacyFile()
	f.Flights = f.Flights[:1]
	f.Flights[0].Samples = []edmtest.Sample{{Repeat: -3, Deltas: map[int]int{0: 900}}}
	fd, err := decodeFixture(t, f, 1)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	if len(fd.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(fd.Records))
	}
}

func TestDecodeFlightTwinEngine(t *testing.T) {
	f := legacyFile()
	f.Model = 760
	f.Flights = []edmtest.Flight{{
		ID:       3,
		Features: fixtureFeatures,
		Interval: 6,
		Start:    fixtureStart,
		Samples: []edmtest.Sample{
			{Deltas: map[int]int{0: 1300, 1: 1310, 2: 1320, 3: 1330, 24: 1400, 25: 1380, 26: 1390, 27: 1410, 30: 1500}},
		},
	}}
	fd, err := decodeFixture(t, f, 3)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	r := fd.Records[0]
	if got, want := r.REGT, []int16{1400, 1380, 1390, 1410}; !equalInt16(got, want) {
		t.Fatalf("REGT = %v, want %v", got, want)
	}
	if r.Spread != [2]int16{30, 30} {
		t.Fatalf("Spread = %v, want [30 30]", r.Spread)
	}
	if r.HPOrRT1.Kind != TagRightTIT1 || r.HPOrRT1.Value != 1500 {
		t.Fatalf("HPOrRT1 = %+v", r.HPOrRT1)
	}
	if r.RPMHighOrRCDT.Kind != TagRightCDT {
		t.Fatalf("RPMHighOrRCDT kind = %s", r.RPMHighOrRCDT.Kind)
	}
}

func TestDecodeFlightTwinTooManyCylinders(t *testing.T) {
	f := legacyFile()
	f.Model = 760
	features := edmtest.CylinderFeatures(7)
	f.Features = features
	f.Flights = []edmtest.Flight{{
		ID:       1,
		Features: features,
		Interval: 6,
		Start:    fixtureStart,
		Samples: []edmtest.Sample{
			{Deltas: map[int]int{0: 1300}},
			{Deltas: map[int]int{0: 5}},
		},
	}}
	fd, err := decodeFixture(t, f, 1)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	if len(fd.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(fd.Records))
	}
	if fd.Records[1].EGT[0] != 0 {
		t.Fatalf("EGT accumulated for twin with 7 cylinders: %v", fd.Records[1].EGT)
	}

	f.Flights[0].Samples[1].BadChecksum = true
	if _, err := decodeFixture(t, f, 1); !errors.Is(err, ErrSampleChecksum) {
		t.Fatalf("error = %v, want %v", err, ErrSampleChecksum)
	}
}

func TestDecodeFlightSevenCylinders(t *testing.T) {
	f := legacyFile()
	features := edmtest.CylinderFeatures(7)
	f.Features = features
	f.Flights = []edmtest.Flight{{
		ID:       1,
		Features: features,
		Interval: 6,
		Start:    fixtureStart,
		Samples: []edmtest.Sample{
			{Deltas: map[int]int{0: 1300, 24: 1250, 32: 200}},
		},
	}}
	fd, err := decodeFixture(t, f, 1)
	if err != nil {
		t.Fatalf("DecodeFlight: %v", err)
	}
	r := fd.Records[0]
	if len(r.EGT) != 7 || r.EGT[6] != 1250 || r.CHT[6] != 200 {
		t.Fatalf("EGT = %v CHT = %v", r.EGT, r.CHT)
	}
	if r.REGT != nil {
		t.Fatalf("REGT = %v for single engine", r.REGT)
	}
}

func TestDecodeFlightErrors(t *testing.T) {
	t.Run("sample checksum keeps prior records", func(t *testing.T) {
		f := legacyFile()
		f.Flights[0].Samples[1].BadChecksum = true
		fd, err := decodeFixture(t, f, 1)
		if !errors.Is(err, ErrSampleChecksum) {
			t.Fatalf("error = %v, want %v", err, ErrSampleChecksum)
		}
		if fd == nil || fd.Valid {
			t.Fatalf("flight data = %+v, want invalid", fd)
		}
		if len(fd.Records) != 1 {
			t.Fatalf("records = %d, want 1", len(fd.Records))
		}
		if len(fd.Diagnostics) != 1 || fd.Diagnostics[0].Code != "sample-checksum" {
			t.Fatalf("Diagnostics = %v", fd.Diagnostics)
		}
		if !errors.Is(fd.Err, ErrSampleChecksum) {
			t.Fatalf("fd.Err = %v", fd.Err)
		}
	})

	t.Run("flight header checksum", func(t *testing.T) {
		f := legacyFile()
		f.Flights[1].CorruptHeader = true
		_, err := decodeFixture(t, f, 2)
		if !errors.Is(err, ErrFlightHeaderChecksum) {
			t.Fatalf("error = %v, want %v", err, ErrFlightHeaderChecksum)
		}
		if fd, err := decodeFixture(t, f, 1); err != nil || !fd.Valid {
			t.Fatalf("flight 1 affected by flight 2 corruption: %v", err)
		}
	})

	t.Run("unknown flight", func(t *testing.T) {
		if _, err := decodeFixture(t, legacyFile(), 42); !errors.Is(err, ErrFlightNotFound) {
			t.Fatalf("error = %v, want %v", err, ErrFlightNotFound)
		}
	})

	t.Run("truncated file", func(t *testing.T) {
		data := legacyFile().Build()
		h, err := ParseHeader(data, Options{})
		if err != nil {
			t.Fatalf("ParseHeader: %v", err)
		}
		cut := data[:len(data)-4]
		if _, err := DecodeFlight(h, cut, 2, Options{}); !errors.Is(err, ErrInsufficientBytes) {
			t.Fatalf("error = %v, want %v", err, ErrInsufficientBytes)
		}
	})

	t.Run("truncated sample", func(t *testing.T) {
		f := legacyFile()
		f.Flights[0].Trailer = []byte{0x00, 0x01, 0x00}
		fd, err := decodeFixture(t, f, 1)
		if !errors.Is(err, ErrInsufficientBytes) {
			t.Fatalf("error = %v, want %v", err, ErrInsufficientBytes)
		}
		if len(fd.Records) != 5 {
			t.Fatalf("records = %d, want the 5 decoded before the trailer", len(fd.Records))
		}
	})

	t.Run("id mismatch", func(t *testing.T) {
		data := legacyFile().Build()
		h, err := ParseHeader(data, Options{})
		if err != nil {
			t.Fatalf("ParseHeader: %v", err)
		}
		off := h.Flights[0].Offset
		binary.BigEndian.PutUint16(data[off:], 5)
		data[off+14] -= 4
		if _, err := DecodeFlight(h, data, 1, Options{}); !errors.Is(err, ErrFlightIDMismatch) {
			t.Fatalf("error = %v, want %v", err, ErrFlightIDMismatch)
		}
	})
}

func TestLocateFlight(t *testing.T) {
	data := []byte{0xAA, 0x00, 0x07, 0xBB, 0xCC}
	tests := []struct {
		name   string
		offset int
		want   int
	}{
		{name: "exact", offset: 1, want: 1},
		{name: "one early", offset: 0, want: 1},
		{name: "one late", offset: 2, want: 1},
		{name: "not found", offset: 3, want: 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := locateFlight(data, tc.offset, 7); got != tc.want {
				t.Fatalf("locateFlight = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDecodeFlightDate(t *testing.T) {
	at := time.Date(2019, time.March, 9, 17, 45, 58, 0, time.UTC)
	d, tm := edmtest.PackDate(at)
	if got := decodeFlightDate(d, tm, time.UTC); !got.Equal(at) {
		t.Fatalf("decodeFlightDate = %v, want %v", got, at)
	}
}

func equalInt16(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
