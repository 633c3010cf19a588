package edm

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/edmgate/internal/common"
)

// Options configures decoding. The zero value logs nothing, records no
// metrics and interprets instrument times as UTC.
type Options struct {
	Logger   *common.Logger
	Metrics  *common.Metrics
	Location *time.Location
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Decoder holds one EDM file in memory together with its parsed header.
// The buffer and header are never modified after NewDecoder returns, so
// flights may be decoded from several goroutines at once.
type Decoder struct {
	data   []byte
	header *FileHeader
	opts   Options
}

func NewDecoder(data []byte, opts Options) (*Decoder, error) {
	opts = opts.withDefaults()
	h, err := ParseHeader(data, opts)
	if err != nil {
		return nil, err
	}
	opts.Metrics.SetTotalBytes(int64(h.TotalLen))
	return &Decoder{data: data, header: h, opts: opts}, nil
}

// Open reads path and parses its header.
func Open(path string, opts Options) (*Decoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return NewDecoder(data, opts)
}

func (d *Decoder) Header() *FileHeader { return d.header }

// Bytes returns the raw file contents. Callers must not modify them.
func (d *Decoder) Bytes() []byte { return d.data }

// FlightHeader decodes only the header of flight id.
func (d *Decoder) FlightHeader(id int) (FlightHeader, error) {
	entry, ok := d.header.Flight(id)
	if !ok {
		return FlightHeader{}, flightError("flight header", id, 0, ErrFlightNotFound)
	}
	fh, _, err := decodeFlightHeader(d.header, d.data, entry, d.opts.Location)
	return fh, err
}

func (d *Decoder) DecodeFlight(id int) (*FlightData, error) {
	return DecodeFlight(d.header, d.data, id, d.opts)
}

// DecodeEntry decodes the block of the i-th $D line, which also reaches
// flights whose id is listed more than once.
func (d *Decoder) DecodeEntry(i int) (*FlightData, error) {
	return DecodeEntry(d.header, d.data, i, d.opts)
}

// DecodeAll decodes every flight in the index using up to concurrency
// workers (GOMAXPROCS when concurrency <= 0). Results are returned in index
// order. A failing flight is reported through its FlightData and does not
// stop the others; only cancellation of ctx makes DecodeAll return an error.
func (d *Decoder) DecodeAll(ctx context.Context, concurrency int) ([]*FlightData, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	flights := d.header.Flights
	out := make([]*FlightData, len(flights))

	d.opts.Metrics.Start()
	defer d.opts.Metrics.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range flights {
		if err := gctx.Err(); err != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fd, _ := d.DecodeEntry(i)
			out[i] = fd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}
