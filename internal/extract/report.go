package extract

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/ignite/report-etl/internal/report"
	"github.com/ignite/report-etl/internal/storage"
)

// ExtractReport filters the report page by window, location and campaign
// and downloads the result into the session's download directory.
func (s *Session) ExtractReport(ctx context.Context, loc report.Location, camp report.Campaign, w report.DateWindow) (*report.RawReport, error) {
	fail := func(step string, err error) error {
		return &ExtractionError{Step: step, Location: loc, Campaign: camp, Err: err}
	}
	if s.closed {
		return nil, fail("start", ErrSessionClosed)
	}
	sel := s.cfg.Selectors

	if err := s.run(ctx, s.cfg.StepTimeout,
		chromedp.Navigate(s.cfg.ReportURL),
		chromedp.WaitVisible(sel.FromDate, chromedp.ByQuery),
		chromedp.WaitVisible(sel.ToDate, chromedp.ByQuery),
	); err != nil {
		return nil, fail("open report page", err)
	}

	from, to := w.Start.Format(s.cfg.DateFormat), w.End.Format(s.cfg.DateFormat)
	if err := s.setDate(ctx, sel.FromDate, from); err != nil {
		return nil, fail("set from date", err)
	}
	if err := s.setDate(ctx, sel.ToDate, to); err != nil {
		return nil, fail("set to date", err)
	}

	var ok bool
	if err := s.run(ctx, s.cfg.StepTimeout, chromedp.Evaluate(script(dismissJS, sel.DismissPicker), &ok)); err != nil {
		return nil, fail("dismiss date picker", err)
	}

	if err := s.selectOption(ctx, sel.Location, string(loc)); err != nil {
		return nil, fail("select location", err)
	}
	if err := s.selectOption(ctx, sel.Campaign, string(camp)); err != nil {
		return nil, fail("select campaign", err)
	}

	if err := s.run(ctx, s.cfg.StepTimeout,
		chromedp.WaitReady(sel.Render, chromedp.ByQuery),
		chromedp.Evaluate(script(clickJS, sel.Render), &ok),
		chromedp.WaitVisible(sel.Download, chromedp.ByQuery),
	); err != nil {
		return nil, fail("render report", err)
	}

	raw, err := s.download(ctx, loc, camp)
	if err != nil {
		return nil, fail("download", err)
	}
	log.Printf("[extract] %s/%s %s: saved %s (%d bytes)", loc, camp, w, raw.Path, raw.Size)
	return raw, nil
}

// run executes actions bounded by timeout.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	stepCtx, cancel := s.step(ctx, timeout)
	defer cancel()
	return chromedp.Run(stepCtx, actions...)
}

// setDate writes value into a date field and reads it back.
func (s *Session) setDate(ctx context.Context, sel, value string) error {
	var found bool
	var got string
	err := s.run(ctx, s.cfg.StepTimeout,
		chromedp.Evaluate(script(setValueJS, sel, value), &found),
		chromedp.Value(sel, &got, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", sel, ErrOptionNotFound)
	}
	if got != value {
		return fmt.Errorf("%s is %q, want %q: %w", sel, got, value, ErrDateRejected)
	}
	return nil
}

// selectOption picks the option labeled label in the select matched by sel.
func (s *Session) selectOption(ctx context.Context, sel, label string) error {
	var res string
	err := s.run(ctx, s.cfg.StepTimeout,
		chromedp.WaitReady(sel, chromedp.ByQuery),
		chromedp.Evaluate(script(selectOptionJS, sel, label), &res),
	)
	if err != nil {
		return err
	}
	switch res {
	case optionSelected:
		return nil
	case optionNoSelect:
		return fmt.Errorf("%s is not a select", sel)
	default:
		return fmt.Errorf("%q in %s: %w", label, sel, ErrOptionNotFound)
	}
}

// download clicks the download trigger and waits for the browser to finish
// writing the file, then moves it to its report name.
func (s *Session) download(ctx context.Context, loc report.Location, camp report.Campaign) (*report.RawReport, error) {
	s.downloads.arm()
	defer s.downloads.disarm()

	if err := s.run(ctx, s.cfg.StepTimeout,
		chromedp.Click(s.cfg.Selectors.Download, chromedp.ByQuery, chromedp.NodeVisible),
	); err != nil {
		return nil, err
	}

	waitCtx, cancel := s.step(ctx, s.cfg.DownloadTimeout)
	defer cancel()

	var res downloadResult
	select {
	case res = <-s.downloads.done:
	case <-waitCtx.Done():
		return nil, fmt.Errorf("waiting for download: %w", waitCtx.Err())
	}
	if res.canceled {
		return nil, ErrDownloadCanceled
	}

	// With AllowAndName the browser stores the file under its GUID.
	tmp := filepath.Join(s.downloadDir, res.guid)
	dest := storage.ReportPath(s.downloadDir, loc, res.suggestedName)
	if err := os.Rename(tmp, dest); err != nil {
		return nil, fmt.Errorf("move download: %w", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return nil, err
	}
	return &report.RawReport{
		Location:      loc,
		Campaign:      camp,
		Path:          dest,
		SuggestedName: res.suggestedName,
		Size:          info.Size(),
	}, nil
}
