// Package extract drives the reporting dashboard in a real browser: one
// authenticated session per run, one downloaded report per call.
package extract

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// Config describes the dashboard and how long to wait on it.
type Config struct {
	LoginURL        string
	ReportURL       string
	Headless        bool
	StepTimeout     time.Duration
	DownloadTimeout time.Duration
	DateFormat      string
	Selectors       Selectors
	Username        string
	Password        string

	// ExecPath overrides Chrome discovery. Empty uses the default lookup.
	ExecPath string
}

// Selectors are the CSS selectors of the dashboard elements.
type Selectors struct {
	Username      string
	Password      string
	Submit        string
	ErrorBanner   string
	FromDate      string
	ToDate        string
	DismissPicker string
	Location      string
	Campaign      string
	Render        string
	Download      string
}

// Session is a browser session against the dashboard. It is not safe for
// concurrent use.
type Session struct {
	cfg         Config
	downloadDir string

	ctx         context.Context // browser tab
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	downloads *downloadTracker

	closeOnce sync.Once
	closed    bool
}

// NewSession launches the browser and points its downloads at downloadDir.
// The browser lives until Close, or until ctx is canceled.
func NewSession(ctx context.Context, cfg Config, downloadDir string) (*Session, error) {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 2 * time.Minute
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "01/02/2006"
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(1600, 1000),
	)
	if os.Geteuid() == 0 {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(log.Printf))

	s := &Session{
		cfg:         cfg,
		downloadDir: downloadDir,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}
	// Stray downloads land under their GUID and are removed.
	s.downloads = newDownloadTracker(func(guid string) {
		if err := os.Remove(filepath.Join(downloadDir, guid)); err != nil && !os.IsNotExist(err) {
			log.Printf("[extract] could not remove stray download %s: %v", guid, err)
		}
		log.Printf("[extract] ignored download %s that did not belong to the current report", guid)
	})

	// The first Run starts the browser; it must not carry a timeout or the
	// browser dies with it.
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	chromedp.ListenTarget(tabCtx, s.downloads.handle)

	stepCtx, cancel := s.step(ctx, s.cfg.StepTimeout)
	defer cancel()
	err := chromedp.Run(stepCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("enable downloads: %w", err)
	}

	log.Printf("[extract] browser started (headless=%t), downloads to %s", cfg.Headless, downloadDir)
	return s, nil
}

// step derives a context for one page interaction: bounded by timeout and
// canceled when the caller's ctx is.
func (s *Session) step(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	stepCtx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return stepCtx, func() {
		stop()
		cancel()
	}
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.cancelTab()
		s.cancelAlloc()
		log.Printf("[extract] browser closed")
	})
	return nil
}
