package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/edmgate/internal/edm"
	"example.com/edmgate/internal/rules"
)

const qrImageName = "digest-qr"

// SavePDF renders the decode report into a PDF document. The file digest is
// printed as text and as a QR code on the first page.
func SavePDF(rep Report, out, author string) error {
	pdf, err := buildPDF(rep, author)
	if err != nil {
		return err
	}
	return pdf.OutputFileAndClose(out)
}

func buildPDF(rep Report, author string) (*gofpdf.Fpdf, error) {
	author = emptyFallback(author, "edmctl")
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Engine Data Report", false)
	pdf.SetAuthor(author, false)
	pdf.SetCreator("edmctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Engine Data Report")
	if err := addDigestQR(pdf, rep.SHA256); err != nil {
		return nil, err
	}
	addSummarySection(pdf, rep)
	addFlightsSection(pdf, rep.Flights)
	addFindingsSection(pdf, rep.Findings)
	if rep.RulePack != "" {
		addChecksSection(pdf, rep.RulePack, rep.Checks)
	}

	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

// addDigestQR places the digest QR in the top right corner. An empty digest
// leaves the corner blank.
func addDigestQR(pdf *gofpdf.Fpdf, digest string) error {
	if sanitizeHash(digest) == "" {
		return nil
	}
	png, err := DigestQR(digest, 256)
	if err != nil {
		return fmt.Errorf("digest qr: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))
	w, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions(qrImageName, w-right-30, 15, 30, 30, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, rep Report) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "File", value: emptyFallback(rep.File, "-")},
		{label: "Registration", value: emptyFallback(rep.Registration, "-")},
		{label: "Instrument", value: instrumentLabel(rep)},
		{label: "Protocol", value: emptyFallback(rep.Protocol, "-")},
		{label: "Engines / Cylinders", value: fmt.Sprintf("%d / %d", rep.Engines, rep.Cylinders)},
		{label: "Features", value: emptyFallback(rep.Features, "-")},
		{label: "Downloaded", value: timeLabel(rep.DownloadTime)},
		{label: "Flights", value: fmt.Sprintf("%d (%d invalid)", rep.Summary.Flights, rep.Summary.Invalid)},
		{label: "Records", value: strconv.Itoa(rep.Summary.Records)},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Acceptance checks", value: fmt.Sprintf("%d errors, %d warnings", rep.Summary.CheckErrors, rep.Summary.CheckWarnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	if rep.SHA256 != "" {
		pdf.SetFont("Courier", "", 8)
		pdf.CellFormat(50, 5, "", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, sanitizeHash(rep.SHA256), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addFlightsSection(pdf *gofpdf.Fpdf, rows []FlightSummary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Flights")
	pdf.Ln(9)

	headers := []string{"Flight", "Start", "Duration", "Interval", "Records", "NA", "Status"}
	widths := []float64{18, 42, 24, 18, 20, 12, 46}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	lineHeight := 5.0
	for _, row := range rows {
		status := passLabel(row.Valid)
		if row.Error != "" {
			status += ": " + row.Error
		}
		na := "-"
		if row.HasNA {
			na = "yes"
		}
		values := []string{
			strconv.Itoa(row.ID),
			timeLabel(row.Start),
			row.Duration().String(),
			fmt.Sprintf("%ds", row.Interval),
			strconv.Itoa(row.Records),
			na,
			status,
		}
		renderTableRow(pdf, widths, values, lineHeight)
	}
	pdf.Ln(4)
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []edm.Diagnostic) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, d := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.Code, severityLabel(d.Severity))
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}
		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 4, findingMetadata(d), "", "L", false)
		pdf.Ln(2)
	}
}

func addChecksSection(pdf *gofpdf.Fpdf, pack string, checks []rules.Finding) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Acceptance checks ("+pack+")")
	pdf.Ln(9)

	if len(checks) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No acceptance findings.", "", "L", false)
		return
	}

	headers := []string{"Rule", "Flight", "Severity", "Time", "Message"}
	widths := []float64{30, 14, 20, 36, 80}
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, c := range checks {
		flight := "-"
		if c.FlightID > 0 {
			flight = strconv.Itoa(c.FlightID)
		}
		values := []string{c.RuleId, flight, severityLabel(c.Severity), timeLabel(c.Time), c.Message}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev edm.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return strings.ToUpper(s)
	}
	return "UNKNOWN"
}

func instrumentLabel(rep Report) string {
	s := fmt.Sprintf("EDM-%d v%d", rep.Model, rep.Version)
	if rep.Build > 0 {
		s += fmt.Sprintf(" build %d", rep.Build)
	}
	return s
}

func timeLabel(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d edm.Diagnostic) string {
	parts := make([]string, 0, 2)
	if d.FlightID > 0 {
		parts = append(parts, fmt.Sprintf("Flight %d", d.FlightID))
	}
	parts = append(parts, fmt.Sprintf("Offset %d", d.Offset))
	return strings.Join(parts, " · ")
}
