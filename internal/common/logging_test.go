package common

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "error", want: LevelError},
		{in: "WARN", want: LevelWarn},
		{in: "", want: LevelInfo},
		{in: "all", want: LevelTrace},
		{in: "loud", want: LevelInfo, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseLevel(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)
	l.Errorf("flight %d bad", 3)
	l.Warnf("checksum off")
	l.Infof("hidden")
	l.Tracef("hidden too")
	out := buf.String()
	if !strings.Contains(out, "ERROR flight 3 bad") {
		t.Fatalf("missing error line: %q", out)
	}
	if !strings.Contains(out, "WARN checksum off") {
		t.Fatalf("missing warn line: %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("info/trace lines leaked: %q", out)
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	l.Errorf("nothing %d", 1)
	if l.Enabled(LevelError) {
		t.Fatalf("nil logger reports enabled")
	}
}

func TestRotatingWriterCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	w, err := RotatingWriter(RotationConfig{Directory: dir, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("RotatingWriter: %v", err)
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "edmctl.log")); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}
