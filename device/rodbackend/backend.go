// Package rodbackend drives a web chat surface through Chrome DevTools
// with go-rod. It launches (or connects to) Chrome, opens the chat page
// with stealth applied, and implements device.Backend on top of that page.
//
// The backend keeps no background goroutine: the host loop is its only
// caller, and a crash is repaired by the loop calling Reset, which kills
// Chrome and starts over.
package rodbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/partyhost/device"
)

// Mode selects how Chrome is run.
type Mode string

const (
	ModeHeadless Mode = "headless"
	ModeHeadful  Mode = "headful" // under Xvfb
)

// Selectors locate the parts of the chat page. All are XPath expressions.
type Selectors struct {
	// Messages matches every message row, oldest first.
	Messages string
	// List is the scrolling container of the rows. Empty means the page.
	List string
	// Input is the chat text field.
	Input string
	// Send is the send button. Empty means pressing Enter.
	Send string
}

// Config configures the backend.
type Config struct {
	// URL of the chat page.
	URL string

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	Mode        Mode
	XvfbDisplay string // default ":99"

	// ResourceBlocking lists resource types to block (images, fonts,
	// media, stylesheets).
	ResourceBlocking []string

	Selectors Selectors

	// ScrollStep is the distance in pixels of one scroll gesture.
	// Default 300.
	ScrollStep int

	NavTimeout time.Duration // default 30s

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Mode == "" {
		c.Mode = ModeHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.Selectors.Messages == "" {
		c.Selectors.Messages = "//ul[@id='messages']/li"
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = 300
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Backend is a device.Backend over one Chrome page.
type Backend struct {
	cfg    Config
	policy *bluemonday.Policy

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	page    *rod.Page
	router  *rod.HijackRouter
	startAt time.Time
	closed  bool
}

var _ device.Backend = (*Backend)(nil)

// New launches Chrome and opens the chat page.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	cfg.defaults()
	if cfg.URL == "" {
		return nil, errors.New("rodbackend: chat URL is required")
	}
	b := &Backend{cfg: cfg, policy: bluemonday.StrictPolicy()}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.startLocked(ctx); err != nil {
		b.cleanupLocked()
		return nil, err
	}
	return b, nil
}

// Reset kills Chrome and opens the chat page in a fresh instance.
func (b *Backend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("rodbackend: backend is closed")
	}
	b.cfg.Logger.Info("rodbackend: recycling", "uptime", time.Since(b.startAt))
	b.cleanupLocked()
	if err := b.startLocked(ctx); err != nil {
		return fmt.Errorf("rodbackend: relaunch: %w", err)
	}
	b.cfg.Logger.Info("rodbackend: recycled")
	return nil
}

// Close shuts down Chrome and Xvfb.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanupLocked()
	return nil
}

func (b *Backend) startLocked(ctx context.Context) error {
	log := b.cfg.Logger

	if b.cfg.Mode == ModeHeadful {
		if err := b.startXvfb(); err != nil {
			return fmt.Errorf("rodbackend: xvfb: %w", err)
		}
	}

	wsURL := b.cfg.RemoteURL
	if wsURL != "" {
		log.Info("rodbackend: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New()
		if b.cfg.Mode == ModeHeadful {
			l = l.Headless(false).Env("DISPLAY", b.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("rodbackend: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("rodbackend: launched local chrome", "url", wsURL, "mode", b.cfg.Mode)
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		return wrapErr("connect", err)
	}
	b.browser = browser

	page, err := stealth.Page(browser)
	if err != nil {
		return wrapErr("create page", err)
	}
	b.page = page

	if len(b.cfg.ResourceBlocking) > 0 {
		b.router = applyResourceBlocking(page, b.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(b.cfg.URL); err != nil {
		return wrapErr("navigate "+b.cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("rodbackend: wait load timeout", "url", b.cfg.URL, "error", err)
	}
	b.startAt = time.Now()
	return nil
}

func (b *Backend) cleanupLocked() {
	if b.router != nil {
		b.router.Stop()
		b.router = nil
	}
	if b.page != nil {
		b.page.Close()
		b.page = nil
	}
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	b.stopXvfb()
}

// current returns the page bound to ctx.
func (b *Backend) current(ctx context.Context) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.page == nil {
		return nil, fmt.Errorf("rodbackend: no page: %w", device.ErrBackendCrashed)
	}
	return b.page.Context(ctx), nil
}

// wrapErr maps transport failures to device.ErrBackendCrashed.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("rodbackend: %s: %w", op, err)
	}
	if device.IsCrash(err) {
		return fmt.Errorf("rodbackend: %s: %w: %v", op, device.ErrBackendCrashed, err)
	}
	return fmt.Errorf("rodbackend: %s: %w", op, err)
}
