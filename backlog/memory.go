package backlog

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTable is an in-process Sheet used for dry runs and tests.
type MemoryTable struct {
	mu     sync.Mutex
	rows   [][]string
	writes int
}

// NewMemoryTable copies rows; rows[0] is the header.
func NewMemoryTable(rows [][]string) *MemoryTable {
	t := &MemoryTable{}
	for _, r := range rows {
		t.rows = append(t.rows, append([]string(nil), r...))
	}
	return t
}

func (t *MemoryTable) Rows(_ context.Context) ([][]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (t *MemoryTable) UpdateCell(_ context.Context, row, col int, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 1 || col < 1 {
		return fmt.Errorf("invalid cell %d:%d", row, col)
	}
	for len(t.rows) < row {
		t.rows = append(t.rows, nil)
	}
	r := t.rows[row-1]
	for len(r) < col {
		r = append(r, "")
	}
	r[col-1] = value
	t.rows[row-1] = r
	t.writes++
	return nil
}

// Cell returns the value at row/col, or "" when out of range.
func (t *MemoryTable) Cell(row, col int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if row < 1 || row > len(t.rows) || col < 1 || col > len(t.rows[row-1]) {
		return ""
	}
	return t.rows[row-1][col-1]
}

// Writes counts UpdateCell calls.
func (t *MemoryTable) Writes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}
