package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/report-etl/internal/report"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDayDir(t *testing.T) {
	l := NewLayout("/data/raw")
	assert.Equal(t, filepath.Join("/data/raw", "202610", "05"), l.DayDir(day(2026, 10, 5)))
	assert.Equal(t, filepath.Join("/data/raw", "202512", "31"), l.DayDir(day(2025, 12, 31)))
}

func TestEnsureDayDirIsIdempotent(t *testing.T) {
	l := NewLayout(t.TempDir())

	dir, err := l.EnsureDayDir(day(2026, 10, 17))
	require.NoError(t, err)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.csv"), []byte("a\n"), 0644))

	again, err := l.EnsureDayDir(day(2026, 10, 17))
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.FileExists(t, filepath.Join(dir, "keep.csv"))
}

func TestEnsureDayDirRejectsFile(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "202610"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "202610", "17"), nil, 0644))

	_, err := NewLayout(base).EnsureDayDir(day(2026, 10, 17))
	assert.Error(t, err)
}

func TestReportPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/d", "Delhi_agent_report.csv"), ReportPath("/d", "Delhi", "agent_report.csv"))
	assert.Equal(t, filepath.Join("/d", "New_Delhi_x.csv"), ReportPath("/d", "New Delhi", "../../x.csv"))
	assert.Equal(t, filepath.Join("/d", "Kolkata_report.csv"), ReportPath("/d", "Kolkata", ""))
}

// =============================================================================
// S3 archive
// =============================================================================

type fakeS3 struct {
	key  string
	body string
	meta map[string]string
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.key = aws.ToString(in.Key)
	f.body = string(b)
	f.meta = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func TestS3ArchiveUploads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Delhi_report.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,2\n"), 0644))

	fake := &fakeS3{}
	a := &S3Archive{client: fake, bucket: "reports", prefix: "raw"}

	err := a.Archive(context.Background(), day(2026, 10, 17), &report.RawReport{Location: "Delhi", Campaign: "Camp1", Path: path})
	require.NoError(t, err)
	assert.Equal(t, "raw/202610/17/Delhi_report.csv", fake.key)
	assert.Equal(t, "a,b\n1,2\n", fake.body)
	assert.Equal(t, "Camp1", fake.meta["campaign"])
}

func TestS3ArchiveErrors(t *testing.T) {
	a := &S3Archive{client: &fakeS3{}, bucket: "reports", prefix: "raw"}
	err := a.Archive(context.Background(), day(2026, 10, 17), &report.RawReport{Path: filepath.Join(t.TempDir(), "missing.csv")})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "r.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	a.client = &fakeS3{err: errors.New("AccessDenied")}
	err = a.Archive(context.Background(), day(2026, 10, 17), &report.RawReport{Path: path})
	assert.ErrorContains(t, err, "s3://reports/raw/202610/17/r.csv")
}
