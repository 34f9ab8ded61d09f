package pipeline

import (
	"context"
	"time"

	"github.com/ignite/report-etl/internal/notify"
	"github.com/ignite/report-etl/internal/report"
)

// Extractor is an authenticated dashboard session.
type Extractor interface {
	Login(ctx context.Context) error
	ExtractReport(ctx context.Context, loc report.Location, camp report.Campaign, w report.DateWindow) (*report.RawReport, error)
	Close() error
}

// SessionFactory opens a session whose downloads land in downloadDir.
type SessionFactory func(ctx context.Context, downloadDir string) (Extractor, error)

// Normalizer turns a raw report into a clean table.
type Normalizer interface {
	Normalize(path string, campaign report.Campaign) (*report.CleanTable, error)
}

// Loader appends a clean table to the destination.
type Loader interface {
	Append(ctx context.Context, table *report.CleanTable, dest string) (int64, error)
}

// Notifier delivers operator notifications, best effort.
type Notifier interface {
	Send(ctx context.Context, kind notify.Kind, vars notify.Vars)
}

// Layout creates the dated download directory.
type Layout interface {
	EnsureDayDir(day time.Time) (string, error)
}

// Archiver keeps a copy of each raw report.
type Archiver interface {
	Archive(ctx context.Context, day time.Time, raw *report.RawReport) error
}

// Recorder receives per-cell and per-run metrics.
type Recorder interface {
	ObserveCell(r report.IterationResult)
	ObserveRun(started, finished time.Time, loginFailed, completed bool)
}
