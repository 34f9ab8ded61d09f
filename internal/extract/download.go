package extract

import (
	"sync"

	"github.com/chromedp/cdproto/browser"
)

// downloadResult is a finished browser download.
type downloadResult struct {
	guid          string
	suggestedName string
	canceled      bool
}

// downloadTracker turns browser download events into results for the cell
// currently waiting. Only downloads that begin between arm and disarm are
// reported; anything else, such as a late download of a cell that already
// timed out, is handed to discard. The handler runs on chromedp's event
// goroutine and never blocks.
type downloadTracker struct {
	mu      sync.Mutex
	armed   bool
	names   map[string]string // in-flight downloads of the armed cell
	done    chan downloadResult
	discard func(guid string)
}

func newDownloadTracker(discard func(guid string)) *downloadTracker {
	if discard == nil {
		discard = func(string) {}
	}
	return &downloadTracker{
		names:   make(map[string]string),
		done:    make(chan downloadResult, 8),
		discard: discard,
	}
}

// arm starts accepting downloads for a new cell. It must be called before
// the download is triggered.
func (t *downloadTracker) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.armed = true
}

// disarm stops accepting downloads and forgets the cell's in-flight ones.
func (t *downloadTracker) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
	t.armed = false
}

// reset clears per-cell state. Callers hold mu.
func (t *downloadTracker) reset() {
	for guid := range t.names {
		delete(t.names, guid)
	}
	for {
		select {
		case <-t.done:
		default:
			return
		}
	}
}

func (t *downloadTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		t.mu.Lock()
		if t.armed {
			t.names[e.GUID] = e.SuggestedFilename
		}
		t.mu.Unlock()
	case *browser.EventDownloadProgress:
		if e.State != browser.DownloadProgressStateCompleted && e.State != browser.DownloadProgressStateCanceled {
			return
		}
		t.mu.Lock()
		name, ours := t.names[e.GUID]
		delete(t.names, e.GUID)
		t.mu.Unlock()

		if !ours {
			if e.State == browser.DownloadProgressStateCompleted {
				t.discard(e.GUID)
			}
			return
		}
		select {
		case t.done <- downloadResult{guid: e.GUID, suggestedName: name, canceled: e.State == browser.DownloadProgressStateCanceled}:
		default:
		}
	}
}
