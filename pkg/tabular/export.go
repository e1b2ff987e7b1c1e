package tabular

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"github.com/olekukonko/tablewriter"
)

// WriteCSV writes the records with a keyword column followed by the schema
// fields.
func WriteCSV(w io.Writer, schema result.Schema, records []result.Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(schema.Columns()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if err := cw.Write(rec.Row(schema)); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// RenderTable renders up to limit records as a text table (limit <= 0 renders all).
func RenderTable(w io.Writer, schema result.Schema, records []result.Record, limit int) error {
	table := tablewriter.NewWriter(w)
	table.Header(toAny(schema.Columns())...)

	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	for _, rec := range records[:limit] {
		if err := table.Append(toAny(rec.Row(schema))...); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
