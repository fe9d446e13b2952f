package phot

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
)

// A Table is the per-cadence record of a batch fit: one row per cadence,
// in cadence order, with the parameters laid out as Names describes.
type Table struct {
	Names []string
	Rows  []FitResult
}

func NewTable(names []string) Table {
	return Table{Names: names}
}

func (t *Table) Append(rows ...FitResult) { t.Rows = append(t.Rows, rows...) }
func (t *Table) Len() int                 { return len(t.Rows) }

// Params is the dense cadence x parameter matrix.
func (t *Table) Params() [][]float64 {
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Params
	}
	return out
}

// Column pulls out one parameter across all cadences.
func (t *Table) Column(name string) ([]float64, error) {
	idx := -1
	for i, n := range t.Names {
		if n == name {
			idx = i
		}
	}
	if idx < 0 {
		return nil, errors.Errorf("no column '%s' in %v", name, t.Names)
	}

	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Params[idx]
	}
	return out, nil
}

func (t *Table) NumConverged() int {
	n := 0
	for _, r := range t.Rows {
		if r.Converged {
			n++
		}
	}
	return n
}

func (t Table) String() string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 8, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintf(w, "cadence\t")
	for _, n := range t.Names {
		fmt.Fprintf(w, "%s\t", n)
	}
	fmt.Fprintf(w, "converged\t-logP\tchi2/dof\t\n")

	for _, r := range t.Rows {
		fmt.Fprintf(w, "%d\t", r.Cadence)
		for _, p := range r.Params {
			fmt.Fprintf(w, "%.4f\t", p)
		}
		fmt.Fprintf(w, "%v\t%.3f\t%.3f\t\n", r.Converged, r.Objective, r.Diagnostics.ReducedChiSq)
	}

	w.Flush()
	return buf.String()
}
