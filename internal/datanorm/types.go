package datanorm

import (
	"errors"
	"fmt"
)

// DefaultMaxColumns is the width of the destination table. The dashboard
// occasionally appends spurious trailing columns past it.
const DefaultMaxColumns = 23

// ErrNoData signals that a report holds no data rows. It is not a failure:
// the caller skips the load for that cell.
var ErrNoData = errors.New("report has no data rows")

// ParseError reports a file that could not be read as a delimited table.
// It is kept apart from ErrNoData so a broken export is never mistaken for
// an empty day.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Config holds normalizer configuration loaded from config.yaml.
type Config struct {
	Encoding        string
	MaxColumns      int
	CommonRenames   map[string]string
	CampaignRenames map[string]map[string]string
}
