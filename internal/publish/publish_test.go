package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"example.com/edmgate/internal/edm"
	"example.com/edmgate/internal/export"
)

type fakeConn struct {
	msgs    []*nats.Msg
	flushes int
	failAt  int
	closed  bool
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.failAt > 0 && len(f.msgs)+1 == f.failAt {
		return errors.New("connection closed")
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func (f *fakeConn) FlushTimeout(time.Duration) error {
	f.flushes++
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

func testFlight(id, records int) *edm.FlightData {
	start := time.Date(2021, time.May, 4, 8, 0, 0, 0, time.UTC)
	fd := &edm.FlightData{
		Index:  id - 1,
		Header: edm.FlightHeader{ID: id, Interval: 6, Date: start},
		Valid:  true,
	}
	for i := 0; i < records; i++ {
		fd.Records = append(fd.Records, edm.FlightDataRecord{
			Time: start.Add(time.Duration(i) * 6 * time.Second),
			EGT:  []int16{int16(1300 + i)},
		})
	}
	return fd
}

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "N12345", want: "N12345"},
		{in: "D-EABC", want: "D-EABC"},
		{in: " g.b*x> ", want: "g_b_x_"},
		{in: "", want: "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			if got := SubjectToken(tc.in); got != tc.want {
				t.Fatalf("SubjectToken(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSubjects(t *testing.T) {
	p := New(&fakeConn{}, Options{Subject: "fleet.edm."})
	flight, records := p.Subjects("N1.2")
	if flight != "fleet.edm.N1_2.flight" || records != "fleet.edm.N1_2.records" {
		t.Fatalf("subjects = %q, %q", flight, records)
	}
	flight, _ = New(&fakeConn{}, Options{}).Subjects("")
	if flight != "edm.unknown.flight" {
		t.Fatalf("default subject = %q", flight)
	}
}

func TestPublishFlight(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, Options{BatchSize: 2})
	sent, err := p.PublishFlight("N12345", "abc123", testFlight(4, 5))
	if err != nil {
		t.Fatalf("PublishFlight: %v", err)
	}
	// one summary plus batches of 2, 2 and 1 records
	if sent != 4 || len(conn.msgs) != 4 {
		t.Fatalf("sent = %d, messages = %d, want 4", sent, len(conn.msgs))
	}
	if conn.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", conn.flushes)
	}

	first := conn.msgs[0]
	if first.Subject != "edm.N12345.flight" {
		t.Fatalf("summary subject = %q", first.Subject)
	}
	if first.Header.Get(HeaderDigest) != "abc123" || first.Header.Get(HeaderFlight) != "4" {
		t.Fatalf("summary headers = %v", first.Header)
	}
	if first.Header.Get(nats.MsgIdHdr) != "abc123/3" {
		t.Fatalf("msg id = %q", first.Header.Get(nats.MsgIdHdr))
	}
	var line export.FlightLine
	if err := json.Unmarshal(first.Data, &line); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if line.Header.ID != 4 || line.Records != 5 || !line.Valid {
		t.Fatalf("summary = %+v", line)
	}

	var total int
	for i, m := range conn.msgs[1:] {
		if m.Subject != "edm.N12345.records" {
			t.Fatalf("batch %d subject = %q", i, m.Subject)
		}
		var batch RecordBatch
		if err := json.Unmarshal(m.Data, &batch); err != nil {
			t.Fatalf("decode batch %d: %v", i, err)
		}
		if batch.Flight != 4 || batch.Start != i*2 {
			t.Fatalf("batch %d = flight %d start %d", i, batch.Flight, batch.Start)
		}
		total += len(batch.Records)
	}
	if total != 5 {
		t.Fatalf("published records = %d, want 5", total)
	}
	if conn.msgs[3].Header.Get(nats.MsgIdHdr) != "abc123/3/4" {
		t.Fatalf("last batch msg id = %q", conn.msgs[3].Header.Get(nats.MsgIdHdr))
	}
}

func TestPublishAll(t *testing.T) {
	conn := &fakeConn{}
	p := New(conn, Options{})
	sent, err := p.PublishAll("N1", "d", []*edm.FlightData{testFlight(1, 3), nil, testFlight(2, 0)})
	if err != nil {
		t.Fatalf("PublishAll: %v", err)
	}
	if sent != 3 {
		t.Fatalf("sent = %d, want 3", sent)
	}

	failing := &fakeConn{failAt: 2}
	sent, err = New(failing, Options{}).PublishAll("N1", "d", []*edm.FlightData{testFlight(1, 3), testFlight(2, 3)})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if sent != 1 {
		t.Fatalf("sent before failure = %d, want 1", sent)
	}
}

func TestPublishRepeatedFlightID(t *testing.T) {
	conn := &fakeConn{}
	second := testFlight(1, 1)
	second.Index = 1
	if _, err := New(conn, Options{}).PublishAll("N1", "d", []*edm.FlightData{testFlight(1, 1), second}); err != nil {
		t.Fatalf("PublishAll: %v", err)
	}
	if len(conn.msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(conn.msgs))
	}
	seen := make(map[string]bool)
	for _, m := range conn.msgs {
		id := m.Header.Get(nats.MsgIdHdr)
		if seen[id] {
			t.Fatalf("msg id %q used twice", id)
		}
		seen[id] = true
		if m.Header.Get(HeaderFlight) != "1" {
			t.Fatalf("flight header = %q", m.Header.Get(HeaderFlight))
		}
	}
}

func TestPublishNilFlight(t *testing.T) {
	if _, err := New(&fakeConn{}, Options{}).PublishFlight("N1", "d", nil); err == nil {
		t.Fatalf("nil flight accepted")
	}
}

func TestConnectEmptyURL(t *testing.T) {
	if _, err := Connect("  ", Options{}); err == nil {
		t.Fatalf("empty url accepted")
	}
}

func TestClose(t *testing.T) {
	conn := &fakeConn{}
	New(conn, Options{}).Close()
	if !conn.closed {
		t.Fatalf("connection not closed")
	}
	var p *Publisher
	p.Close()
}
