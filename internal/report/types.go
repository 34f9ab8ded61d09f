// Package report holds the domain types shared by the extraction, normalization
// and load stages of the dashboard ETL.
package report

import (
	"fmt"
	"math"
	"time"
)

// Location is a dashboard office filter value, e.g. "Delhi".
type Location string

// Campaign is a dashboard campaign filter value, e.g. "Camp1". It also selects
// the column rename override applied during normalization.
type Campaign string

// DateWindow is an inclusive range of calendar days. Start is never after End.
type DateWindow struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the window.
func (w DateWindow) Days() int {
	return int(math.Round(w.End.Sub(w.Start).Hours()/24)) + 1
}

func (w DateWindow) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// RawReport is a file downloaded by one extraction call.
type RawReport struct {
	Location      Location
	Campaign      Campaign
	Path          string
	SuggestedName string
	Size          int64
}

// CleanTable is a normalized table ready for persistence. Rows are aligned
// with Columns; an empty cell is "" and is written as NULL.
type CleanTable struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of data rows.
func (t *CleanTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Empty reports whether the table has no data rows.
func (t *CleanTable) Empty() bool { return t.Len() == 0 }

// Outcome is the result kind of one (location, campaign) cell.
type Outcome string

const (
	OutcomeLoaded      Outcome = "loaded"
	OutcomeEmptyData   Outcome = "empty_data"
	OutcomeUnparseable Outcome = "unparseable"
	OutcomeFailed      Outcome = "failed"
)

// IterationResult records what happened to one cell of the matrix.
type IterationResult struct {
	Location Location
	Campaign Campaign
	Outcome  Outcome
	Rows     int64
	Err      error
}

func (r IterationResult) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s/%s: %s (%v)", r.Location, r.Campaign, r.Outcome, r.Err)
	}
	if r.Outcome == OutcomeLoaded {
		return fmt.Sprintf("%s/%s: %s %d rows", r.Location, r.Campaign, r.Outcome, r.Rows)
	}
	return fmt.Sprintf("%s/%s: %s", r.Location, r.Campaign, r.Outcome)
}
