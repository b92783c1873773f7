package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesRunDirectory(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if _, err := os.Stat(filepath.Join(dir, "run1", "traces")); err != nil {
		t.Errorf("traces dir not created: %v", err)
	}
}

func TestWriteWindowAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	if err := w.WriteWindow(WindowEntry{WindowID: 0, PathID: 1, Weight: 0.5}); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}
	if err := w.WriteWindow(WindowEntry{WindowID: 1, PathID: 1, Weight: 0.6}); err != nil {
		t.Fatalf("WriteWindow: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "run1", "window_logs.jsonl"))
	if err != nil {
		t.Fatalf("open window_logs.jsonl: %v", err)
	}
	defer f.Close()

	var lines []WindowEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e WindowEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[1].Weight != 0.6 {
		t.Errorf("second line weight = %f, want 0.6", lines[1].Weight)
	}
}

func TestWriteMetaRecordsOpenQuestionResolutions(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	m := Meta{
		RunID:               "run1",
		Seed:                42,
		StartedAt:           time.Now(),
		RedundancySemantics: "inclusive",
		RedundantAckScope:   "per_path",
		ExitGroupIDPolicy:   "preserve",
	}
	if err := w.WriteMeta(m); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "run1", "meta.json"))
	if err != nil {
		t.Fatalf("read meta.json: %v", err)
	}
	var got Meta
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal meta.json: %v", err)
	}
	if got.RedundancySemantics != "inclusive" {
		t.Errorf("RedundancySemantics = %q, want inclusive", got.RedundancySemantics)
	}
}

func TestTraceWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "run1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()

	tw, err := w.OpenTrace(0, 1, TraceForward)
	if err != nil {
		t.Fatalf("OpenTrace: %v", err)
	}
	if err := tw.Write(TraceRecord{Timestamp: time.Now(), Length: 512, IATMs: 1.5}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	tw.Close()

	path := filepath.Join(dir, "run1", "traces", "trace_session_0_path_1_TM1.csv")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("trace file not found: %v", err)
	}
}
