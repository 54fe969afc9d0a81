package metadata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"picture-export/internal/naming"
)

// WriteSidecar writes r as indented JSON to a new file at path.
func WriteSidecar(path string, r Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("could not encode sidecar: %w", err)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return fmt.Errorf("could not indent sidecar: %w", err)
	}
	pretty.WriteByte('\n')

	return naming.WriteNew(path, func(w io.Writer) error {
		_, err := w.Write(pretty.Bytes())
		return err
	})
}

// WriteJSONL writes one compact JSON object per line to a new file at path.
func WriteJSONL(path string, records []Record) error {
	return naming.WriteNew(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("could not encode record: %w", err)
			}
		}
		return nil
	})
}

// WriteCSV writes records as a table whose header is the union of all keys,
// in first-seen order. Missing cells are empty.
func WriteCSV(path string, records []Record) error {
	header := Header(records)
	return naming.WriteNew(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("metadata csv: write header: %w", err)
		}
		row := make([]string, len(header))
		for _, r := range records {
			for i, k := range header {
				row[i] = r.String(k)
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("metadata csv: write record: %w", err)
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// Header returns the union of keys across records in first-seen order.
func Header(records []Record) []string {
	seen := make(map[string]bool)
	var header []string
	for _, r := range records {
		for _, k := range r.keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	return header
}

// Aggregate collects records from concurrent writers and returns them in
// item order.
type Aggregate struct {
	mu   sync.Mutex
	rows []aggregateRow
}

type aggregateRow struct {
	index int
	recs  Records
}

// Add stores the records of item index.
func (a *Aggregate) Add(index int, recs Records) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, aggregateRow{index: index, recs: recs})
}

// Len returns the number of collected items.
func (a *Aggregate) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows)
}

// Export returns the exported (possibly de-identified) records in item order.
func (a *Aggregate) Export() []Record {
	return a.collect(func(r Records) Record { return r.Export() })
}

// Full returns the full records in item order.
func (a *Aggregate) Full() []Record {
	return a.collect(func(r Records) Record { return r.Full })
}

func (a *Aggregate) collect(pick func(Records) Record) []Record {
	a.mu.Lock()
	rows := make([]aggregateRow, len(a.rows))
	copy(rows, a.rows)
	a.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].index < rows[j].index })
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = pick(row.recs)
	}
	return out
}
