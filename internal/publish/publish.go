// Package publish sends decoded flights to NATS.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"example.com/edmgate/internal/common"
	"example.com/edmgate/internal/edm"
	"example.com/edmgate/internal/export"
)

const (
	DefaultSubject   = "edm"
	DefaultBatchSize = 500

	HeaderDigest = "Edm-File-Sha256"
	HeaderFlight = "Edm-Flight"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
	FlushTimeout(timeout time.Duration) error
	Close()
}

// Options configure a Publisher. Zero values fall back to defaults.
type Options struct {
	Subject   string
	BatchSize int
	Timeout   time.Duration
	Logger    *common.Logger
}

// Publisher sends flight summaries and record batches for one download.
type Publisher struct {
	conn Conn
	opts Options
}

// RecordBatch is the payload of a records message.
type RecordBatch struct {
	Flight  int                    `json:"flight"`
	Start   int                    `json:"start"`
	Records []edm.FlightDataRecord `json:"records"`
}

// Connect dials the NATS server at url.
func Connect(url string, opts Options) (*Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is empty")
	}
	opts = opts.withDefaults()
	nc, err := nats.Connect(url, nats.Name("edmctl"), nats.Timeout(opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return New(nc, opts), nil
}

func New(conn Conn, opts Options) *Publisher {
	return &Publisher{conn: conn, opts: opts.withDefaults()}
}

func (o Options) withDefaults() Options {
	o.Subject = strings.Trim(strings.TrimSpace(o.Subject), ".")
	if o.Subject == "" {
		o.Subject = DefaultSubject
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	return o
}

// Subjects returns the flight and records subjects for a registration.
func (p *Publisher) Subjects(registration string) (flight, records string) {
	base := p.opts.Subject + "." + SubjectToken(registration)
	return base + ".flight", base + ".records"
}

// PublishFlight sends the summary of fd and then its records in batches.
// It returns the number of messages sent.
func (p *Publisher) PublishFlight(registration, digest string, fd *edm.FlightData) (int, error) {
	if fd == nil {
		return 0, errors.New("publish: nil flight")
	}
	flightSubj, recordSubj := p.Subjects(registration)
	id := strconv.Itoa(fd.Header.ID)

	summary, err := json.Marshal(export.NewFlightLine(fd))
	if err != nil {
		return 0, fmt.Errorf("failed to marshal flight %d: %w", fd.Header.ID, err)
	}
	// Message ids are keyed by index entry; flight ids may repeat.
	base := digest + "/" + strconv.Itoa(fd.Index)
	if err := p.send(flightSubj, digest, id, base, summary); err != nil {
		return 0, err
	}
	sent := 1

	for start := 0; start < len(fd.Records); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(fd.Records))
		data, err := json.Marshal(RecordBatch{Flight: fd.Header.ID, Start: start, Records: fd.Records[start:end]})
		if err != nil {
			return sent, fmt.Errorf("failed to marshal flight %d records: %w", fd.Header.ID, err)
		}
		msgID := base + "/" + strconv.Itoa(start)
		if err := p.send(recordSubj, digest, id, msgID, data); err != nil {
			return sent, err
		}
		sent++
	}
	if err := p.conn.FlushTimeout(p.opts.Timeout); err != nil {
		return sent, fmt.Errorf("flush flight %d: %w", fd.Header.ID, err)
	}
	p.opts.Logger.Tracef("published flight %d on %s (%d messages)", fd.Header.ID, flightSubj, sent)
	return sent, nil
}

// PublishAll publishes every non-nil flight, stopping at the first error.
func (p *Publisher) PublishAll(registration, digest string, flights []*edm.FlightData) (int, error) {
	total := 0
	for _, fd := range flights {
		if fd == nil {
			continue
		}
		n, err := p.PublishFlight(registration, digest, fd)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *Publisher) send(subject, digest, flight, msgID string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderDigest, digest)
	msg.Header.Set(HeaderFlight, flight)
	msg.Header.Set(nats.MsgIdHdr, msgID)
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

// SubjectToken reduces s to characters NATS accepts inside one subject token.
func SubjectToken(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
