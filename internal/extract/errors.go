package extract

import (
	"errors"
	"fmt"

	"github.com/ignite/report-etl/internal/report"
)

var (
	// ErrDateRejected means the dashboard did not keep the date typed into a
	// range field.
	ErrDateRejected = errors.New("date not accepted by dashboard")
	// ErrOptionNotFound means a filter has no option with the wanted label.
	ErrOptionNotFound = errors.New("option not found")
	// ErrDownloadCanceled means the browser reported the download as canceled.
	ErrDownloadCanceled = errors.New("download canceled")
	// ErrSessionClosed is returned by calls made after Close.
	ErrSessionClosed = errors.New("session closed")
)

// AuthError is a failed dashboard login. It is fatal for the run.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("login failed: %s: %v", e.Reason, e.Err)
	case e.Reason != "":
		return "login failed: " + e.Reason
	default:
		return fmt.Sprintf("login failed: %v", e.Err)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// ExtractionError is a failed report extraction for one cell. Step names the
// page interaction that did not complete.
type ExtractionError struct {
	Step     string
	Location report.Location
	Campaign report.Campaign
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s/%s: %s: %v", e.Location, e.Campaign, e.Step, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
