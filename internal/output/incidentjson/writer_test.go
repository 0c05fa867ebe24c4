package incidentjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"responder/pkg/models"
)

func TestWriteIncidents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "incidents.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	ts := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	batch := []*models.Incident{
		{
			ID:            "inc-1",
			Type:          models.TypeSQLInjection,
			Severity:      models.SeverityHigh,
			Status:        models.StatusNew,
			SourceIPs:     []string{"198.51.100.4"},
			CreatedAt:     ts,
			LastUpdatedAt: ts,
			EventCount:    1,
		},
		{
			ID:            "inc-2",
			Type:          models.TypeDDoSAttack,
			Severity:      models.SeverityCritical,
			Status:        models.StatusContained,
			CreatedAt:     ts,
			LastUpdatedAt: ts.Add(time.Minute),
			EventCount:    3,
		},
	}
	if err := w.WriteIncidents(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var got []models.Incident
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var inc models.Incident
		if err := json.Unmarshal(scanner.Bytes(), &inc); err != nil {
			t.Fatalf("parse line: %v", err)
		}
		got = append(got, inc)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].ID != "inc-1" || got[0].Type != models.TypeSQLInjection {
		t.Fatalf("first line: %+v", got[0])
	}
	if got[1].Status != models.StatusContained || got[1].EventCount != 3 {
		t.Fatalf("second line: %+v", got[1])
	}
}

func TestWriterAppendsAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.jsonl")
	ts := time.Now()

	for i, id := range []string{"inc-1", "inc-2"} {
		w, err := NewWriter(path)
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
		if err := w.WriteIncidents([]*models.Incident{{ID: id, CreatedAt: ts, LastUpdatedAt: ts}}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		w.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("restart truncated the archive: %d lines", lines)
	}
}
