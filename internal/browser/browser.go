// Package browser drives headless Chrome through chromedp and exposes each
// launched browser as a dom.Page.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/dom"
)

// Config holds browser launch settings
type Config struct {
	Headless     bool
	ExecPath     string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// NoSandbox is needed when Chrome runs as root inside a container.
	NoSandbox bool
}

// DefaultConfig returns sensible default browser settings
func DefaultConfig() Config {
	return Config{
		Headless:     true,
		UserAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		WindowWidth:  1920,
		WindowHeight: 1080,
	}
}

func (c Config) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.UserAgent(c.UserAgent),
		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
	}
	if c.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Launcher starts one Chrome process per Launch, so no cookies or storage
// leak between runs.
type Launcher struct {
	cfg Config
}

func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Launch starts a browser and returns its single tab. ctx bounds the start
// only; the browser lives until Close.
func (l *Launcher) Launch(ctx context.Context) (dom.Page, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.cfg.allocatorOptions()...)
	tabCtx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
	}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if e, ok := ev.(*page.EventFrameNavigated); ok && e.Frame.ParentID == "" {
			s.nav.Bump()
		}
	})

	// The first Run allocates the browser and must use the tab context
	// itself, or the browser dies with the derived one.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return s, nil
}

// Session is one browser tab.
type Session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	nav       dom.NavCounter
	closeOnce sync.Once
	closedMu  sync.Mutex
	isClosed  bool
}

// run executes actions on the tab, bounded by both ctx and the tab.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.Closed() {
		return dom.ErrClosed
	}
	rctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *Session) Navigations() int {
	return s.nav.Count()
}

func (s *Session) WaitForNavigation(ctx context.Context, since int) bool {
	return s.nav.Wait(ctx, since)
}

// Screenshot captures the viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close kills the tab and the browser process. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closedMu.Lock()
		s.isClosed = true
		s.closedMu.Unlock()

		s.cancel()
		s.allocCancel()
	})
	return nil
}

func (s *Session) Closed() bool {
	s.closedMu.Lock()
	defer s.closedMu.Unlock()
	return s.isClosed
}
