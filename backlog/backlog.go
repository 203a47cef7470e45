// Package backlog reads pending ideas from a header-addressed table and marks
// them done after publication. The table itself (a Google Sheet in
// production) sits behind the Sheet interface.
package backlog

import (
	"context"
	"strings"
	"time"

	"auto_telegram_post_publisher/errs"
	"auto_telegram_post_publisher/logging"
)

// Column names, matched case-insensitively against the header row.
const (
	ColumnStatus    = "status"
	ColumnScheduled = "scheduled"
	ColumnIdea      = "idea"
	ColumnTitle     = "title"
	ColumnExamples  = "examples"
)

// TimestampLayout is written into the scheduled column.
const TimestampLayout = "2006-01-02 15:04:05"

// Sheet is a table whose first row is the header. Row and column numbers are
// 1-based, so the first data row is 2.
type Sheet interface {
	Rows(ctx context.Context) ([][]string, error)
	UpdateCell(ctx context.Context, row, col int, value string) error
}

// Idea is one pending backlog row.
type Idea struct {
	Row      int
	Text     string
	Examples string
}

// Options configures status markers and the clock.
type Options struct {
	PendingMarker string
	DoneMarker    string
	Now           func() time.Time
	Logger        *logging.Logger
}

// Backlog implements next-idea and mark-done over a Sheet.
type Backlog struct {
	sheet   Sheet
	pending string
	done    string
	now     func() time.Time
	logger  *logging.Logger
}

func New(sheet Sheet, opts Options) *Backlog {
	b := &Backlog{
		sheet:   sheet,
		pending: strings.ToLower(strings.TrimSpace(opts.PendingMarker)),
		done:    strings.TrimSpace(opts.DoneMarker),
		now:     opts.Now,
		logger:  opts.Logger.With("backlog"),
	}
	if b.pending == "" {
		b.pending = "pending"
	}
	if b.done == "" {
		b.done = "done"
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

// NextIdea returns the first row whose status equals the pending marker and
// that has idea or title text. Pending rows without text are skipped with a
// warning. The bool is false when nothing is pending, which is not an error.
func (b *Backlog) NextIdea(ctx context.Context) (Idea, bool, error) {
	rows, err := b.sheet.Rows(ctx)
	if err != nil {
		return Idea{}, false, errs.Upstream("backlog.next_idea", err)
	}
	if len(rows) < 2 {
		b.logger.Infof("No pending ideas found in sheet")
		return Idea{}, false, nil
	}

	h := newHeader(rows[0])
	if _, ok := h.index(ColumnStatus); !ok {
		b.logger.Warnf("header has no %q column; nothing can be pending", ColumnStatus)
		return Idea{}, false, nil
	}

	for i, row := range rows[1:] {
		status := strings.ToLower(strings.TrimSpace(h.cell(row, ColumnStatus)))
		if status != b.pending {
			continue
		}
		idea := Idea{
			Row:      i + 2,
			Text:     strings.TrimSpace(h.cell(row, ColumnIdea)),
			Examples: h.cell(row, ColumnExamples),
		}
		if idea.Text == "" {
			idea.Text = strings.TrimSpace(h.cell(row, ColumnTitle))
		}
		if idea.Text == "" {
			b.logger.Warnf("Row %d is pending but has no idea or title; skipping", idea.Row)
			continue
		}
		b.logger.Infof("Found pending idea at row %d: %s", idea.Row, idea.Text)
		return idea, true, nil
	}
	b.logger.Infof("No pending ideas found in sheet")
	return Idea{}, false, nil
}

// MarkDone writes the done marker and the current local time into row. Only
// the status and scheduled cells are touched.
func (b *Backlog) MarkDone(ctx context.Context, row int) error {
	if row < 2 {
		return errs.Configuration("backlog.mark_done", "row %d is not a data row", row)
	}
	rows, err := b.sheet.Rows(ctx)
	if err != nil {
		return errs.Upstream("backlog.mark_done", err)
	}
	if len(rows) == 0 {
		return errs.Configuration("backlog.mark_done", "sheet has no header row")
	}
	h := newHeader(rows[0])
	statusCol, ok := h.index(ColumnStatus)
	if !ok {
		return errs.Configuration("backlog.mark_done", "column %q not found in header", ColumnStatus)
	}
	scheduledCol, ok := h.index(ColumnScheduled)
	if !ok {
		return errs.Configuration("backlog.mark_done", "column %q not found in header", ColumnScheduled)
	}

	if err := b.sheet.UpdateCell(ctx, row, statusCol+1, b.done); err != nil {
		return errs.Upstream("backlog.mark_done", err)
	}
	stamp := b.now().Local().Format(TimestampLayout)
	if err := b.sheet.UpdateCell(ctx, row, scheduledCol+1, stamp); err != nil {
		return errs.Upstream("backlog.mark_done", err)
	}
	b.logger.Infof("Row %d marked as done at %s", row, stamp)
	return nil
}

// header maps normalised column names to 0-based positions. The first
// occurrence of a duplicated name wins.
type header map[string]int

func newHeader(cells []string) header {
	h := make(header, len(cells))
	for i, c := range cells {
		name := strings.ToLower(strings.TrimSpace(c))
		if name == "" {
			continue
		}
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

func (h header) index(name string) (int, bool) {
	i, ok := h[name]
	return i, ok
}

func (h header) cell(row []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}
