package extract

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

const pollInterval = 250 * time.Millisecond

// loginState is what the page shows after the credentials were submitted.
type loginState int

const (
	loginPending loginState = iota
	loginAccepted
	loginRejected
)

// Login signs in with the configured credentials. It succeeds once the
// login form is gone; an error banner or a timeout is an *AuthError.
func (s *Session) Login(ctx context.Context) error {
	if s.closed {
		return &AuthError{Err: ErrSessionClosed}
	}
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return &AuthError{Reason: "no dashboard credentials configured"}
	}
	sel := s.cfg.Selectors

	stepCtx, cancel := s.step(ctx, s.cfg.StepTimeout)
	defer cancel()

	err := chromedp.Run(stepCtx,
		chromedp.Navigate(s.cfg.LoginURL),
		chromedp.WaitVisible(sel.Username, chromedp.ByQuery),
		chromedp.SendKeys(sel.Username, s.cfg.Username, chromedp.ByQuery),
		chromedp.SendKeys(sel.Password, s.cfg.Password, chromedp.ByQuery),
		chromedp.Click(sel.Submit, chromedp.ByQuery),
	)
	if err != nil {
		return &AuthError{Reason: "login form not usable", Err: err}
	}

	var banner string
	err = s.pollDocument(stepCtx, func(doc *goquery.Document) bool {
		var state loginState
		state, banner = classifyLoginPage(doc, sel.Username, sel.ErrorBanner)
		return state != loginPending
	})
	if banner != "" {
		return &AuthError{Reason: banner}
	}
	if err != nil {
		return &AuthError{Reason: "login form still shown", Err: err}
	}

	log.Printf("[extract] logged in to %s", s.cfg.LoginURL)
	return nil
}

// classifyLoginPage inspects the page after submit. An error banner with
// text that is not hidden by its markup wins over everything else; the login
// is accepted once the username field is gone.
func classifyLoginPage(doc *goquery.Document, usernameSel, bannerSel string) (loginState, string) {
	if bannerSel != "" {
		var text string
		doc.Find(bannerSel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if hiddenByMarkup(s) {
				return true
			}
			text = strings.Join(strings.Fields(s.Text()), " ")
			return text == ""
		})
		if text != "" {
			return loginRejected, text
		}
	}
	if doc.Find(usernameSel).Length() == 0 {
		return loginAccepted, ""
	}
	return loginPending, ""
}

// hiddenByMarkup reports whether s or an ancestor is hidden through the
// hidden attribute, an inline display/visibility style or a common hiding
// class. Stylesheet rules are not evaluated.
func hiddenByMarkup(s *goquery.Selection) bool {
	for n := s; n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return true
		}
		if v, _ := n.Attr("aria-hidden"); v == "true" {
			return true
		}
		style := strings.ReplaceAll(strings.ToLower(n.AttrOr("style", "")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return true
		}
		for _, c := range hiddenClasses {
			if n.HasClass(c) {
				return true
			}
		}
	}
	return false
}

var hiddenClasses = []string{"hidden", "d-none", "hide", "invisible"}

// pollDocument re-reads the page HTML until done reports true or ctx ends.
// Reads that fail while the page is navigating are retried.
func (s *Session) pollDocument(ctx context.Context, done func(*goquery.Document) bool) error {
	var lastErr error
	for {
		var html string
		err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
		if err == nil {
			doc, perr := goquery.NewDocumentFromReader(strings.NewReader(html))
			if perr == nil && done(doc) {
				return nil
			}
			lastErr = perr
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if lastErr != nil && !errors.Is(lastErr, context.DeadlineExceeded) && !errors.Is(lastErr, context.Canceled) {
				return errors.Join(ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
