package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"example.com/edmgate/internal/common"
	"example.com/edmgate/internal/edm"
	"example.com/edmgate/internal/export"
	"example.com/edmgate/internal/report"
	"example.com/edmgate/internal/rules"
	"example.com/edmgate/internal/store"
)

type decodeRequest struct {
	Input  string `json:"input"`
	Flight int    `json:"flight"`
	Store  bool   `json:"store"`
}

type decodeResponse struct {
	Report    report.Report `json:"report"`
	Artifacts []ArtifactRef `json:"artifacts"`
	FileID    int64         `json:"fileId,omitempty"`
}

// handleDecode decodes an uploaded download. With ?stream=true the flights
// are streamed back as NDJSON; otherwise the records, the report (with the
// acceptance checks of the server's rule pack) and its PDF are written as
// artifacts and the report is returned.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stream := r.URL.Query().Get("stream") == "true"
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return
	}
	if req.Store && s.store == nil {
		http.Error(w, "store not configured", http.StatusBadRequest)
		return
	}
	art, err := s.upload(req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := edm.Open(art.Path, s.decodeOptions())
	if err != nil {
		http.Error(w, fmt.Sprintf("parse header: %v", err), http.StatusUnprocessableEntity)
		return
	}
	flights, err := s.decodeFlights(r.Context(), d, req.Flight)
	if errors.Is(err, edm.ErrFlightNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusInternalServerError)
		return
	}

	if stream {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		nw := export.NewNDJSONWriter(w)
		for _, fd := range flights {
			if err := nw.WriteFlight(fd); err != nil {
				s.logger.Warnf("stream %s: %v", art.Name, err)
				return
			}
		}
		return
	}

	digest := common.Sha256OfBytes(d.Bytes())
	rep := report.New(art.Name, digest, int64(len(d.Bytes())), d.Header(), flights)
	findings, err := rules.Check(d.Header(), int64(len(d.Bytes())), flights, s.rulePack)
	if err != nil {
		http.Error(w, fmt.Sprintf("checks: %v", err), http.StatusInternalServerError)
		return
	}
	rep.AddChecks(s.rulePack.RulePackId, findings)
	refs, err := s.writeArtifacts(rep, flights)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := decodeResponse{Report: rep, Artifacts: refs}
	if req.Store {
		resp.FileID, err = s.store.SaveFile(r.Context(), store.File{
			Name:         art.Name,
			SHA256:       digest,
			Registration: d.Header().Registration,
			Model:        d.Header().Config.Model,
			Protocol:     d.Header().Protocol.String(),
			Size:         int64(len(d.Bytes())),
			Downloaded:   d.Header().DownloadTime,
		}, flights)
		if err != nil {
			http.Error(w, fmt.Sprintf("store: %v", err), http.StatusInternalServerError)
			return
		}
	}
	s.logger.Infof("decoded %s: %d flights, %d invalid", art.Name, rep.Summary.Flights, rep.Summary.Invalid)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeFlights(ctx context.Context, d *edm.Decoder, id int) ([]*edm.FlightData, error) {
	if id == 0 {
		return d.DecodeAll(ctx, s.concurrency)
	}
	fd, err := d.DecodeFlight(id)
	if errors.Is(err, edm.ErrFlightNotFound) {
		return nil, err
	}
	return []*edm.FlightData{fd}, nil
}

func (s *Server) writeArtifacts(rep report.Report, flights []*edm.FlightData) ([]ArtifactRef, error) {
	recordsPath, err := s.tempPath("records-*.ndjson")
	if err != nil {
		return nil, err
	}
	f, err := os.Create(recordsPath)
	if err != nil {
		return nil, err
	}
	nw := export.NewNDJSONWriter(f)
	for _, fd := range flights {
		if err := nw.WriteFlight(fd); err != nil {
			f.Close()
			return nil, fmt.Errorf("write records: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	reportPath, err := s.tempPath("report-*.json")
	if err != nil {
		return nil, err
	}
	if err := report.SaveJSON(rep, reportPath); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}
	pdfPath, err := s.tempPath("report-*.pdf")
	if err != nil {
		return nil, err
	}
	if err := report.SavePDF(rep, pdfPath, s.author); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	base := rep.File
	outputs := []struct{ path, name, kind string }{
		{recordsPath, base + ".ndjson", "records"},
		{reportPath, base + ".report.json", "report"},
		{pdfPath, base + ".report.pdf", "pdf"},
	}
	refs := make([]ArtifactRef, 0, len(outputs))
	for _, o := range outputs {
		art, err := s.addArtifact(o.path, o.name, "", o.kind)
		if err != nil {
			return nil, err
		}
		refs = append(refs, toRef(art))
	}
	return refs, nil
}

type flightEntry struct {
	ID       int       `json:"id"`
	Offset   int       `json:"offset"`
	Bytes    int       `json:"bytes"`
	Start    time.Time `json:"start,omitzero"`
	Interval int       `json:"interval,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// handleFlights returns the header summary and flight index of an upload
// without decoding the flight bodies.
func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	art, err := s.upload(r.URL.Query().Get("input"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d, err := edm.Open(art.Path, s.decodeOptions())
	if err != nil {
		http.Error(w, fmt.Sprintf("parse header: %v", err), http.StatusUnprocessableEntity)
		return
	}
	h := d.Header()
	entries := make([]flightEntry, 0, len(h.Flights))
	for _, f := range h.Flights {
		e := flightEntry{ID: f.ID, Offset: f.Offset, Bytes: f.SizeBytes()}
		if fh, err := d.FlightHeader(f.ID); err != nil {
			e.Error = err.Error()
		} else {
			e.Start, e.Interval = fh.Date, fh.Interval
		}
		entries = append(entries, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":     h.Summary(),
		"protocol":    h.Protocol.String(),
		"units":       h.Units,
		"flights":     entries,
		"diagnostics": h.Diagnostics,
	})
}

// handleFiles lists archived downloads when a store is configured.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "store not configured", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if raw := q.Get("file"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid file id", http.StatusBadRequest)
			return
		}
		if _, err := s.store.FileByID(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, fmt.Sprintf("file %d not found", id), http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		flights, err := s.store.Flights(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, flights)
		return
	}
	files, err := s.store.Files(r.Context(), q.Get("registration"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, files)
}
