// Package result holds the summary records a rewrite run produces:
// per-block peephole/DCE reports and a checkpoint format for resuming
// a multi-subgraph batch.
package result

import (
	"encoding/json"
	"io"
	"sort"
	"sync"
)

// Report summarizes one code block's peephole+DCE pass: how many bytes
// and instructions it held before and after, so a caller can total up
// savings across a batch of subgraphs.
type Report struct {
	BlockName          string
	InstructionsBefore int
	InstructionsAfter  int
	BytesBefore        uint32
	BytesAfter         uint32
	PeepholeIterations int
}

// BytesSaved returns the reduction in encoded size the report recorded.
func (r Report) BytesSaved() int64 {
	return int64(r.BytesBefore) - int64(r.BytesAfter)
}

// Table accumulates Reports from concurrent producers.
type Table struct {
	mu      sync.Mutex
	reports []Report
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

// Add records one report.
func (t *Table) Add(r Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reports = append(t.reports, r)
}

// Reports returns a copy of every recorded report, sorted by bytes
// saved, largest first.
func (t *Table) Reports() []Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Report, len(t.reports))
	copy(out, t.reports)
	sort.Slice(out, func(i, j int) bool {
		return out[i].BytesSaved() > out[j].BytesSaved()
	})
	return out
}

// Len returns the number of recorded reports.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reports)
}

// WriteJSON writes reports to w as a JSON array.
func WriteJSON(w io.Writer, reports []Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

// ReadJSON reads a JSON array of reports from r.
func ReadJSON(r io.Reader) ([]Report, error) {
	var reports []Report
	if err := json.NewDecoder(r).Decode(&reports); err != nil {
		return nil, err
	}
	return reports, nil
}
