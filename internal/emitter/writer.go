package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// Output formats of the writer emitter.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// WriterEmitter prints reports to a writer, as a table or as JSON.
type WriterEmitter struct {
	w      io.Writer
	format string
}

// NewWriterEmitter creates a writer emitter. Unknown formats are rejected.
func NewWriterEmitter(w io.Writer, format string) (*WriterEmitter, error) {
	switch format {
	case FormatTable, FormatJSON:
	case "":
		format = FormatTable
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &WriterEmitter{w: w, format: format}, nil
}

// Emit writes the report.
func (e *WriterEmitter) Emit(_ context.Context, report Report) error {
	if e.format == FormatJSON {
		enc := json.NewEncoder(e.w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return e.table(report)
}

func (e *WriterEmitter) table(report Report) error {
	discovered, relations := report.Discovered.Len()
	fmt.Fprintf(e.w, "Sweep Summary:\n")
	fmt.Fprintf(e.w, "   Pass: %s\n", report.PassID)
	if report.Revision > 0 {
		fmt.Fprintf(e.w, "   Snapshot revision: %d\n", report.Revision)
	}
	fmt.Fprintf(e.w, "   Resources: %d (%d relations)\n", discovered, relations)
	fmt.Fprintf(e.w, "   Roots: %d (%d not discovered)\n", len(report.Roots), len(report.IgnoredRoots))
	fmt.Fprintf(e.w, "   Kept: %d\n", report.Kept)
	fmt.Fprintf(e.w, "   Reclaimable: %d\n", len(report.Reclaimable.Resources))
	if len(report.Anomalies) > 0 {
		fmt.Fprintf(e.w, "   Anomalies: %d\n", len(report.Anomalies))
	}
	fmt.Fprintf(e.w, "\n")

	if len(report.Reclaimable.Resources) == 0 {
		fmt.Fprintf(e.w, "Nothing to reclaim.\n")
		return nil
	}

	resources := append(report.Reclaimable.Resources[:0:0], report.Reclaimable.Resources...)
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].URID() < resources[j].URID()
	})

	fmt.Fprintf(e.w, "Reclaimable Resources:\n")
	w := tabwriter.NewWriter(e.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tCREATED\tNAME")
	for _, r := range resources {
		created := "-"
		if r.Created != nil {
			created = r.Created.Format("2006-01-02")
		}
		name := r.Tags()["Name"]
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Kind, r.ID, created, name)
	}
	return w.Flush()
}

// Close is a no-op for the writer emitter.
func (e *WriterEmitter) Close() error {
	return nil
}
