package student

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

// WriteCSV writes records as a CSV snapshot that ReadCSV reads back to the
// same identities. Mandatory fields come first under their display labels,
// then any other columns in name order. Rows dropped as empty by the source
// are written blank so positions are preserved.
func WriteCSV(w io.Writer, records []Record) error {
	extra := map[string]bool{}
	for _, r := range records {
		for k := range r.Fields {
			extra[k] = true
		}
	}
	keys := append([]string(nil), MandatoryFields...)
	for _, k := range MandatoryFields {
		delete(extra, k)
	}
	rest := make([]string, 0, len(extra))
	for k := range extra {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	header := make([]string, len(keys))
	for i, k := range keys {
		header[i] = Label(k)
	}

	sorted := append([]Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Row < sorted[j].Row })

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("student: write csv: %w", err)
	}
	next := 0
	for _, r := range sorted {
		for ; next < r.Row; next++ {
			if err := cw.Write(make([]string, len(keys))); err != nil {
				return fmt.Errorf("student: write csv: %w", err)
			}
		}
		row := make([]string, len(keys))
		for i, k := range keys {
			row[i] = r.Fields[k]
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("student: write csv: %w", err)
		}
		next = r.Row + 1
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("student: write csv: %w", err)
	}
	return nil
}
