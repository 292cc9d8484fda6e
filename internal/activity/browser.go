package activity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// BrowserTabSource turns pushed active-tab URLs into KindBrowserTab signals.
// Consecutive identical URLs are dropped.
type BrowserTabSource struct {
	now func() time.Time

	mu      sync.Mutex
	emit    Emit
	lastURL string
}

func NewBrowserTabSource() *BrowserTabSource {
	return &BrowserTabSource{now: time.Now}
}

// Start enables emission until ctx is cancelled or Stop is called.
func (s *BrowserTabSource) Start(ctx context.Context, emit Emit) error {
	s.mu.Lock()
	if s.emit != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.emit = emit
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Push records the active tab URL. It returns true if a signal was emitted.
// Safe for concurrent use.
func (s *BrowserTabSource) Push(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if url == s.lastURL {
		return false
	}
	s.lastURL = url
	if s.emit == nil {
		return false
	}
	// Emitting under the lock keeps signal order identical to push order.
	s.emit(Signal{Kind: KindBrowserTab, Payload: url, ObservedAt: s.now()})
	return true
}

// LastURL returns the most recently pushed URL.
func (s *BrowserTabSource) LastURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastURL
}

// Reset re-emits the last known URL. The extension only reports changes, so
// a new tracking run would otherwise not learn the current tab until the
// user switches.
func (s *BrowserTabSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.emit == nil || s.lastURL == "" {
		return
	}
	s.emit(Signal{Kind: KindBrowserTab, Payload: s.lastURL, ObservedAt: s.now()})
}

// Stop disables emission. Pushes after Stop only update the last URL.
func (s *BrowserTabSource) Stop() {
	s.mu.Lock()
	s.emit = nil
	s.mu.Unlock()
}
