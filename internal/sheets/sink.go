// Package sheets pushes per-scene status rows to a Google Spreadsheet. The
// sink is strictly best-effort: a failed update is logged and swallowed,
// never propagated as a batch failure.
package sheets

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// statusRange is where status rows are appended.
const statusRange = "Status!A:F"

// RowSink is the notification contract consumed by the orchestrator. A nil
// sink disables notifications entirely.
type RowSink interface {
	UpdateRowStatus(ctx context.Context, sceneID string, fields map[string]string) error
}

// Sink appends one row per item transition to the configured spreadsheet.
type Sink struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	logger        zerolog.Logger

	now func() time.Time
}

// NewSink builds a sink authenticated with the given service-account
// credentials file.
func NewSink(ctx context.Context, credentialsFile, spreadsheetID string, logger zerolog.Logger) (*Sink, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	svc, err := sheetsapi.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheetsapi.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &Sink{svc: svc, spreadsheetID: spreadsheetID, logger: logger, now: time.Now}, nil
}

// UpdateRowStatus appends a status row for the scene. Row layout:
// timestamp, scene id, batch id, status, error, image.
func (s *Sink) UpdateRowStatus(ctx context.Context, sceneID string, fields map[string]string) error {
	row := []any{
		s.now().UTC().Format(time.RFC3339),
		sceneID,
		fields["batch_id"],
		fields["status"],
		fields["error"],
		fields["image"],
	}
	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, statusRange, &sheetsapi.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("sheets: append status row: %w", err)
	}
	return nil
}

var _ RowSink = (*Sink)(nil)
