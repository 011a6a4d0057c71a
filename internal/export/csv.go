package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
)

// exportCSV writes one row per record with a flattened header covering the
// union of every record's columns, so a mixed-entity-type export never drops
// a field the first record happened to lack. The union is only known once the
// source is drained, so rows are buffered before anything is written.
func (e *Engine) exportCSV(ctx context.Context, w io.Writer, source Source, opts Options) (int, error) {
	var (
		flats   []map[string]string
		columns = make(map[string]bool)
	)
	for {
		page, err := source(ctx)
		if err != nil {
			return 0, err
		}
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			masked, err := e.MaskRecord(ctx, rec, opts)
			if err != nil {
				return 0, err
			}
			flat := flatten("", masked)
			for k := range flat {
				columns[k] = true
			}
			flats = append(flats, flat)
		}
	}

	header := make([]string, 0, len(columns))
	for k := range columns {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return 0, fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, flat := range flats {
		row := make([]string, len(header))
		for i, col := range header {
			if v, ok := flat[col]; ok {
				row[i] = v
			}
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, err
	}
	return len(flats), nil
}

// flatten turns nested maps into dotted column names: {"a":{"b":1}} becomes
// {"a.b":"1"}.
func flatten(prefix string, value any) map[string]string {
	out := make(map[string]string)
	switch v := value.(type) {
	case map[string]any:
		for key, nested := range v {
			name := key
			if prefix != "" {
				name = prefix + "." + key
			}
			for fk, fv := range flatten(name, nested) {
				out[fk] = fv
			}
		}
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
	return out
}
