package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"example.com/edmgate/internal/edm"
)

// DiagnosticEntry records one decoder diagnostic against the file it came from.
type DiagnosticEntry struct {
	File   string         `json:"file"`
	SHA256 string         `json:"sha256,omitempty"`
	Diag   edm.Diagnostic `json:"diagnostic"`
	Ts     time.Time      `json:"ts"`
}

// DiagnosticLog provides append-only access to a JSONL log of decode problems.
type DiagnosticLog struct {
	path string
	mu   sync.Mutex
}

func NewDiagnosticLog(path string) *DiagnosticLog {
	return &DiagnosticLog{path: path}
}

func (l *DiagnosticLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes entries to the log, one JSON object per line.
func (l *DiagnosticLog) Append(entries ...DiagnosticEntry) error {
	if l == nil {
		return errors.New("nil diagnostic log")
	}
	if len(entries) == 0 {
		return nil
	}
	var buf []byte
	for _, e := range entries {
		if e.File == "" {
			return errors.New("diagnostic entry missing file")
		}
		if e.Ts.IsZero() {
			e.Ts = time.Now().UTC()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	dir := filepath.Dir(l.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return err
	}
	return f.Sync()
}

// Entries gathers the header and flight diagnostics of one decode run.
func Entries(file, digest string, h *edm.FileHeader, flights []*edm.FlightData) []DiagnosticEntry {
	now := time.Now().UTC()
	var out []DiagnosticEntry
	add := func(d edm.Diagnostic) {
		out = append(out, DiagnosticEntry{File: file, SHA256: digest, Diag: d, Ts: now})
	}
	if h != nil {
		for _, d := range h.Diagnostics {
			add(d)
		}
	}
	for _, fd := range flights {
		if fd == nil {
			continue
		}
		for _, d := range fd.Diagnostics {
			add(d)
		}
	}
	return out
}

// ReadDiagnosticLog loads every entry from the supplied JSONL file.
func ReadDiagnosticLog(path string) ([]DiagnosticEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []DiagnosticEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry DiagnosticEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode diagnostic entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
