package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"scenebatch/internal/ledger"
)

func writeLogFile(t *testing.T, dir, name string, lines []ledger.CostLine) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadCostLogMergesAndFilters(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	writeLogFile(t, dir, "2026-08-01.jsonl", []ledger.CostLine{
		{ID: "a", Timestamp: day1, UserID: "u1", BatchID: "b1", ImageCount: 2, CostUSD: "0.08"},
	})
	writeLogFile(t, dir, "2026-08-02.jsonl", []ledger.CostLine{
		{ID: "b", Timestamp: day2, UserID: "u1", BatchID: "b2", ImageCount: 1, CostUSD: "0.04"},
	})

	all, err := readCostLog(dir, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d lines, want 2", len(all))
	}

	filtered, err := readCostLog(dir, day2)
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].ID != "b" {
		t.Fatalf("filtered = %+v, want only line b", filtered)
	}
}

func TestReadCostLogMissingDirIsEmpty(t *testing.T) {
	lines, err := readCostLog(filepath.Join(t.TempDir(), "nope"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if lines != nil {
		t.Fatalf("got %v, want nil", lines)
	}
}

func TestWriteParquetRoundTrip(t *testing.T) {
	out := filepath.Join(t.TempDir(), "costlog.parquet")
	ts := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	lines := []ledger.CostLine{
		{ID: "a", Timestamp: ts, UserID: "u1", BatchID: "b1", PromptSummary: "2 scenes", ImageCount: 2, CostUSD: "0.08"},
		{ID: "b", Timestamp: ts.Add(time.Hour), UserID: "u2", BatchID: "b2", PromptSummary: "1 scene", ImageCount: 1, CostUSD: "0.04"},
	}
	if err := writeParquet(out, lines); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		t.Fatal(err)
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		t.Fatal(err)
	}
	reader := parquet.NewGenericReader[costRow](pf)
	defer reader.Close()

	rows := make([]costRow, 4)
	n, _ := reader.Read(rows)
	if n != 2 {
		t.Fatalf("read %d rows, want 2", n)
	}
	if rows[0].BatchID != "b1" || rows[0].ImageCount != 2 || rows[0].CostUSD != "0.08" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1].UserID != "u2" || rows[1].Date != "2026-08-01" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}
