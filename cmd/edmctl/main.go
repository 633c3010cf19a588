package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"example.com/edmgate/internal/common"
	"example.com/edmgate/internal/config"
	"example.com/edmgate/internal/edm"
	"example.com/edmgate/internal/export"
	"example.com/edmgate/internal/publish"
	"example.com/edmgate/internal/report"
	"example.com/edmgate/internal/rules"
	"example.com/edmgate/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type command func(args []string, stdout io.Writer) error

var commands = map[string]command{
	"info":    infoCmd,
	"flights": flightsCmd,
	"decode":  decodeCmd,
	"report":  reportCmd,
	"check":   checkCmd,
	"store":   storeCmd,
	"publish": publishCmd,
}

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}
	if err := cmd(os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Printf(`edmctl %s (built %s) <command> [options]

Commands:
  info     --in <file.jpi>
  flights  --in <file.jpi>
  decode   --in <file.jpi> [--flight <id>] [--out <records.ndjson>] [--diagnostics <diag.jsonl>] [--metrics] [--progress]
  report   --in <file.jpi> [--json <report.json>] [--pdf <report.pdf>] [--rules <pack.yaml>]
  check    --in <file.jpi> [--rules <pack.yaml>] [--out <findings.ndjson>]
  store    --in <file.jpi> [--db <edm.db>] | --list [--registration <reg>]
  publish  --in <file.jpi> [--url <nats url>] [--subject <prefix>] [--batch <n>]

Every command accepts --config <edmctl.yaml> and --env <file.env>.
`, version, buildDate)
}

// env carries what every command needs after flags are parsed.
type env struct {
	cfg    config.Config
	logger *common.Logger
}

type globalFlags struct {
	config *string
	env    *string
}

func addGlobalFlags(fs *flag.FlagSet) globalFlags {
	return globalFlags{
		config: fs.String("config", "", "edmctl.yaml"),
		env:    fs.String("env", "", "dotenv file (default .env)"),
	}
}

func (g globalFlags) setup() (env, error) {
	var envFiles []string
	if *g.env != "" {
		envFiles = append(envFiles, *g.env)
	}
	cfg, err := config.Load(*g.config, envFiles...)
	if err != nil {
		return env{}, fmt.Errorf("config: %w", err)
	}
	w, err := common.RotatingWriter(cfg.Rotation())
	if err != nil {
		return env{}, err
	}
	logger := common.NewLogger(w, cfg.LogLevel())
	common.SetDefault(logger)
	return env{cfg: cfg, logger: logger}, nil
}

func (e env) decodeOptions(metrics *common.Metrics) (edm.Options, error) {
	loc, err := e.cfg.Location()
	if err != nil {
		return edm.Options{}, err
	}
	return edm.Options{Logger: e.logger, Metrics: metrics, Location: loc}, nil
}

// decoded is one input file after every flight has been decoded.
type decoded struct {
	path    string
	digest  string
	size    int64
	header  *edm.FileHeader
	flights []*edm.FlightData
}

func (e env) open(path string, metrics *common.Metrics) (*edm.Decoder, error) {
	opts, err := e.decodeOptions(metrics)
	if err != nil {
		return nil, err
	}
	return edm.Open(path, opts)
}

func (e env) decodeFile(ctx context.Context, path string, metrics *common.Metrics) (decoded, error) {
	d, err := e.open(path, metrics)
	if err != nil {
		return decoded{}, err
	}
	flights, err := d.DecodeAll(ctx, e.cfg.Decode.Concurrency)
	if err != nil {
		return decoded{}, err
	}
	return decoded{
		path:    path,
		digest:  common.Sha256OfBytes(d.Bytes()),
		size:    int64(len(d.Bytes())),
		header:  d.Header(),
		flights: flights,
	}, nil
}

// rulePack loads path, the configured pack, or the built-in acceptance pack.
func (e env) rulePack(path string) (rules.RulePack, error) {
	if path == "" {
		path = e.cfg.Rules.Pack
	}
	return rules.LoadOrDefault(path)
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return nil
}

func requireIn(in string) error {
	if strings.TrimSpace(in) == "" {
		return errors.New("required: --in")
	}
	return nil
}

func infoCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireIn(*in); err != nil {
		return err
	}
	e, err := g.setup()
	if err != nil {
		return err
	}
	d, err := e.open(*in, nil)
	if err != nil {
		return err
	}
	h := d.Header()
	fmt.Fprintln(stdout, h.Summary())
	fmt.Fprintf(stdout, "downloaded: %s\n", formatTime(h.DownloadTime))
	fmt.Fprintf(stdout, "units: temperature=%s oat=%s flow=%s volume=%s\n",
		h.Units.Temperature, h.Units.OAT, h.Units.Flow, h.Units.Volume)
	fmt.Fprintf(stdout, "alarms: volts %d-%d, egt diff %d, cht %d, cld %d, tit %d, oil %d-%d\n",
		h.Alarms.VoltsLow, h.Alarms.VoltsHigh, h.Alarms.Diff, h.Alarms.CHT,
		h.Alarms.CLD, h.Alarms.TIT, h.Alarms.OilLow, h.Alarms.OilHigh)
	fmt.Fprintf(stdout, "sha256: %s\n", common.Sha256OfBytes(d.Bytes()))
	for _, diag := range h.Diagnostics {
		fmt.Fprintln(stdout, diag)
	}
	return nil
}

func flightsCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("flights", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireIn(*in); err != nil {
		return err
	}
	e, err := g.setup()
	if err != nil {
		return err
	}
	d, err := e.open(*in, nil)
	if err != nil {
		return err
	}

	data := pterm.TableData{{"Flight", "Offset", "Bytes", "Start", "Interval", "Status"}}
	for _, entry := range d.Header().Flights {
		row := []string{strconv.Itoa(entry.ID), strconv.Itoa(entry.Offset), strconv.Itoa(entry.SizeBytes()), "-", "-", "ok"}
		fh, err := d.FlightHeader(entry.ID)
		if err != nil {
			row[5] = err.Error()
		} else {
			row[3] = formatTime(fh.Date)
			row[4] = (time.Duration(fh.Interval) * time.Second).String()
		}
		data = append(data, row)
	}
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, out)
	return nil
}

func decodeCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	flightID := fs.Int("flight", 0, "decode only this flight id")
	out := fs.String("out", "-", "NDJSON output (- for stdout)")
	diagPath := fs.String("diagnostics", "", "append diagnostics to this JSONL file")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	progressFlag := fs.Bool("progress", false, "display decode progress updates")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireIn(*in); err != nil {
		return err
	}
	e, err := g.setup()
	if err != nil {
		return err
	}

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
	}
	var stopProgress func()
	if *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var res decoded
	if *flightID != 0 {
		res, err = e.decodeOne(*in, *flightID, metrics)
	} else {
		res, err = e.decodeFile(ctx, *in, metrics)
	}
	if stopProgress != nil {
		stopProgress()
	}
	if err != nil {
		return err
	}

	w := stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	bw := bufio.NewWriter(w)
	nw := export.NewNDJSONWriter(bw)
	for _, fd := range res.flights {
		if fd == nil {
			continue
		}
		if err := nw.WriteFlight(fd); err != nil {
			return fmt.Errorf("write flight %d: %w", fd.Header.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	if *diagPath != "" {
		entries := export.Entries(filepath.Base(res.path), res.digest, res.header, res.flights)
		if err := export.NewDiagnosticLog(*diagPath).Append(entries...); err != nil {
			return fmt.Errorf("write diagnostics: %w", err)
		}
	}

	valid, invalid := countValid(res.flights)
	e.logger.Infof("%s: %d flights decoded, %d invalid, %d objects written", res.path, valid, invalid, nw.Count())
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		fmt.Fprintf(os.Stderr, "Metrics: duration=%s flights=%d invalid=%d records=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Flights,
			snap.InvalidFlights,
			snap.Records,
			common.FormatBytes(snap.Bytes),
			snap.ThroughputBytesPerSecond()/1_000_000,
		)
	}
	return nil
}

func (e env) decodeOne(path string, id int, metrics *common.Metrics) (decoded, error) {
	d, err := e.open(path, metrics)
	if err != nil {
		return decoded{}, err
	}
	metrics.Start()
	fd, err := d.DecodeFlight(id)
	metrics.Stop()
	if errors.Is(err, edm.ErrFlightNotFound) {
		return decoded{}, err
	}
	return decoded{
		path:    path,
		digest:  common.Sha256OfBytes(d.Bytes()),
		size:    int64(len(d.Bytes())),
		header:  d.Header(),
		flights: []*edm.FlightData{fd},
	}, nil
}

func reportCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	jsonOut := fs.String("json", "", "report JSON output")
	pdfOut := fs.String("pdf", "", "report PDF output")
	rulesPath := fs.String("rules", "", "acceptance rule pack (defaults to the built-in pack)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireIn(*in); err != nil {
		return err
	}
	if *jsonOut == "" && *pdfOut == "" {
		*jsonOut = strings.TrimSuffix(*in, filepath.Ext(*in)) + ".report.json"
	}
	e, err := g.setup()
	if err != nil {
		return err
	}
	rp, err := e.rulePack(*rulesPath)
	if err != nil {
		return err
	}
	res, err := e.decodeFile(context.Background(), *in, nil)
	if err != nil {
		return err
	}
	rep := report.New(filepath.Base(res.path), res.digest, res.size, res.header, res.flights)
	findings, err := rules.Check(res.header, res.size, res.flights, rp)
	if err != nil {
		return err
	}
	rep.AddChecks(rp.RulePackId, findings)
	if *jsonOut != "" {
		if err := report.SaveJSON(rep, *jsonOut); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if *pdfOut != "" {
		if err := report.SavePDF(rep, *pdfOut, e.cfg.Report.Author); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
	}
	fmt.Fprintf(stdout, "PASS=%v, flights=%d, invalid=%d, records=%d, errors=%d, warnings=%d, check errors=%d, check warnings=%d\n",
		rep.Summary.Pass, rep.Summary.Flights, rep.Summary.Invalid, rep.Summary.Records,
		rep.Summary.Errors, rep.Summary.Warnings, rep.Summary.CheckErrors, rep.Summary.CheckWarnings)
	return nil
}

func checkCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	rulesPath := fs.String("rules", "", "acceptance rule pack (defaults to the built-in pack)")
	out := fs.String("out", "", "write findings as NDJSON")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireIn(*in); err != nil {
		return err
	}
	e, err := g.setup()
	if err != nil {
		return err
	}
	rp, err := e.rulePack(*rulesPath)
	if err != nil {
		return err
	}
	res, err := e.decodeFile(context.Background(), *in, nil)
	if err != nil {
		return err
	}
	findings, err := rules.Check(res.header, res.size, res.flights, rp)
	if err != nil {
		return err
	}
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := rules.WriteNDJSON(f, findings); err != nil {
			return fmt.Errorf("write findings: %w", err)
		}
	}

	if len(findings) > 0 {
		data := pterm.TableData{{"Rule", "Flight", "Severity", "Time", "Count", "Message"}}
		for _, f := range findings {
			flight := "-"
			if f.FlightID > 0 {
				flight = strconv.Itoa(f.FlightID)
			}
			data = append(data, []string{f.RuleId, flight, string(f.Severity), formatTime(f.Time), strconv.Itoa(f.Count), f.Message})
		}
		table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, table)
	}
	acc := rules.Accept(findings)
	fmt.Fprintf(stdout, "PASS=%v, pack=%s, findings=%d, errors=%d, warnings=%d\n",
		acc.Pass, rp.RulePackId, acc.Total, acc.Errors, acc.Warnings)
	return nil
}

func storeCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	dbPath := fs.String("db", "", "SQLite database (defaults to the configured store path)")
	list := fs.Bool("list", false, "list stored files")
	registration := fs.String("registration", "", "only list files of this registration")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if !*list {
		if err := requireIn(*in); err != nil {
			return err
		}
	}
	e, err := g.setup()
	if err != nil {
		return err
	}
	path := *dbPath
	if path == "" {
		path = e.cfg.Store.Path
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()

	if *list {
		files, err := db.Files(ctx, *registration)
		if err != nil {
			return err
		}
		data := pterm.TableData{{"ID", "Registration", "File", "Protocol", "Downloaded", "SHA-256"}}
		for _, f := range files {
			data = append(data, []string{strconv.FormatInt(f.ID, 10), f.Registration, f.Name, f.Protocol,
				formatTime(f.Downloaded), shortDigest(f.SHA256)})
		}
		out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, out)
		return nil
	}

	res, err := e.decodeFile(ctx, *in, nil)
	if err != nil {
		return err
	}
	id, err := db.SaveFile(ctx, store.File{
		Name:         filepath.Base(res.path),
		SHA256:       res.digest,
		Registration: res.header.Registration,
		Model:        res.header.Config.Model,
		Protocol:     res.header.Protocol.String(),
		Size:         res.size,
		Downloaded:   res.header.DownloadTime,
	}, res.flights)
	if err != nil {
		return err
	}
	valid, invalid := countValid(res.flights)
	fmt.Fprintf(stdout, "stored %s as file %d: %d flights, %d invalid\n", res.path, id, valid+invalid, invalid)
	return nil
}

func publishCmd(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	g := addGlobalFlags(fs)
	in := fs.String("in", "", "input EDM file")
	url := fs.String("url", "", "NATS server URL (defaults to the configured URL)")
	subject := fs.String("subject", "", "subject prefix (defaults to the configured subject)")
	batch := fs.Int("batch", publish.DefaultBatchSize, "records per message")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireIn(*in); err != nil {
		return err
	}
	e, err := g.setup()
	if err != nil {
		return err
	}
	if *url == "" {
		*url = e.cfg.NATS.URL
	}
	if *subject == "" {
		*subject = e.cfg.NATS.Subject
	}
	if *url == "" {
		return errors.New("required: --url or nats.url in the config")
	}

	res, err := e.decodeFile(context.Background(), *in, nil)
	if err != nil {
		return err
	}
	pub, err := publish.Connect(*url, publish.Options{
		Subject:   *subject,
		BatchSize: *batch,
		Timeout:   e.cfg.NATS.Timeout,
		Logger:    e.logger,
	})
	if err != nil {
		return err
	}
	defer pub.Close()
	sent, err := pub.PublishAll(res.header.Registration, res.digest, res.flights)
	if err != nil {
		return err
	}
	flightSubj, _ := pub.Subjects(res.header.Registration)
	fmt.Fprintf(stdout, "published %d messages for %d flights on %s\n", sent, len(res.flights), strings.TrimSuffix(flightSubj, ".flight")+".>")
	return nil
}

func countValid(flights []*edm.FlightData) (valid, invalid int) {
	for _, fd := range flights {
		switch {
		case fd == nil:
		case fd.Valid:
			valid++
		default:
			invalid++
		}
	}
	return valid, invalid
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func shortDigest(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
