// Package export renders a distribution snapshot as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/splusd-labs/splusd-tracker/internal/core/domain"
)

// Format names an export encoding.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
)

var csvHeader = []string{"Location", "Amount", "Percentage", "Address"}

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case CSV, JSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	if f == CSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// Filename returns splusd-distribution-<millis>.<ext>.
func Filename(f Format, at time.Time) string {
	return fmt.Sprintf("splusd-distribution-%d.%s", at.UnixMilli(), f)
}

// Write encodes snap to w in format f.
func Write(w io.Writer, f Format, snap *domain.DistributionSnapshot) error {
	switch f {
	case CSV:
		return WriteCSV(w, snap)
	case JSON:
		return WriteJSON(w, snap)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// WriteCSV writes one row per distribution entry.
func WriteCSV(w io.Writer, snap *domain.DistributionSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range snap.Distributions {
		addr := e.Address
		if addr == "" {
			addr = "N/A"
		}
		row := []string{e.Location, e.Amount, fmt.Sprintf("%.2f%%", e.Percentage), addr}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %q: %w", e.Location, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON dumps the full snapshot, indented.
func WriteJSON(w io.Writer, snap *domain.DistributionSnapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
