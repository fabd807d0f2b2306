package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"

	"scenebatch/internal/ledger"
)

// costRow is the flattened parquet schema for exported cost lines.
type costRow struct {
	ID            string `parquet:"id"`
	Timestamp     int64  `parquet:"timestamp_unix_ms"`
	Date          string `parquet:"date"`
	UserID        string `parquet:"user_id"`
	BatchID       string `parquet:"batch_id"`
	PromptSummary string `parquet:"prompt_summary"`
	ImageCount    int32  `parquet:"image_count"`
	CostUSD       string `parquet:"cost_usd"`
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the cost log for reconciliation",
		Long: `Reads the day-partitioned cost log from the storage directory and writes
a single parquet (or jsonl) file sorted by timestamp.`,
		RunE: runExport,
	}
	cmd.Flags().String("data", "data", "storage directory the API writes to")
	cmd.Flags().String("out", "costlog.parquet", "output file")
	cmd.Flags().String("format", "parquet", "output format: parquet or jsonl")
	cmd.Flags().String("since", "", "only include lines from this date on (YYYY-MM-DD)")
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data")
	out, _ := cmd.Flags().GetString("out")
	format, _ := cmd.Flags().GetString("format")
	since, _ := cmd.Flags().GetString("since")

	var cutoff time.Time
	if since != "" {
		var err error
		cutoff, err = time.Parse("2006-01-02", since)
		if err != nil {
			return fmt.Errorf("parse --since: %w", err)
		}
	}

	lines, err := readCostLog(filepath.Join(dataDir, "costlog"), cutoff)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return fmt.Errorf("no cost lines found under %s", dataDir)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Timestamp.Before(lines[j].Timestamp) })

	switch format {
	case "parquet":
		err = writeParquet(out, lines)
	case "jsonl":
		err = writeJSONL(out, lines)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d cost lines to %s\n", len(lines), out)
	return nil
}

func readCostLog(dir string, cutoff time.Time) ([]ledger.CostLine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cost log dir: %w", err)
	}

	var lines []ledger.CostLine
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", entry.Name(), err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" {
				continue
			}
			var line ledger.CostLine
			if err := json.Unmarshal([]byte(raw), &line); err != nil {
				f.Close()
				return nil, fmt.Errorf("parse %s: %w", entry.Name(), err)
			}
			if !cutoff.IsZero() && line.Timestamp.Before(cutoff) {
				continue
			}
			lines = append(lines, line)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", entry.Name(), err)
		}
	}
	return lines, nil
}

func writeParquet(out string, lines []ledger.CostLine) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	rows := make([]costRow, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, costRow{
			ID:            line.ID,
			Timestamp:     line.Timestamp.UnixMilli(),
			Date:          line.Timestamp.UTC().Format("2006-01-02"),
			UserID:        line.UserID,
			BatchID:       line.BatchID,
			PromptSummary: line.PromptSummary,
			ImageCount:    int32(line.ImageCount),
			CostUSD:       line.CostUSD,
		})
	}

	writer := parquet.NewGenericWriter[costRow](f)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func writeJSONL(out string, lines []ledger.CostLine) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("encode line: %w", err)
		}
	}
	return w.Flush()
}
