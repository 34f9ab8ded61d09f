// Package storage owns where raw report downloads live: the dated local
// directory tree and the optional S3 archive.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ignite/report-etl/internal/pkg/logger"
	"github.com/ignite/report-etl/internal/report"
)

// Layout maps a reporting day to <base>/<YYYYMM>/<DD>.
type Layout struct {
	BaseDir string
}

// NewLayout creates a Layout rooted at baseDir.
func NewLayout(baseDir string) *Layout {
	return &Layout{BaseDir: baseDir}
}

// DayDir returns the directory for day without creating it.
func (l *Layout) DayDir(day time.Time) string {
	return filepath.Join(l.BaseDir, day.Format("200601"), day.Format("02"))
}

// EnsureDayDir creates the directory for day if needed. Calling it again for
// the same day is a no-op.
func (l *Layout) EnsureDayDir(day time.Time) (string, error) {
	dir := l.DayDir(day)
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return "", fmt.Errorf("%s exists and is not a directory", dir)
		}
		logger.Info("report directory already exists", "dir", dir)
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	logger.Info("report directory created", "dir", dir)
	return dir, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ReportPath is where a downloaded report for location is kept:
// <dir>/<location>_<suggested name>.
func ReportPath(dir string, location report.Location, suggested string) string {
	name := filepath.Base(strings.TrimSpace(suggested))
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "report.csv"
	}
	loc := unsafeName.ReplaceAllString(string(location), "_")
	return filepath.Join(dir, loc+"_"+name)
}
