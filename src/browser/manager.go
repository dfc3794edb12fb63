// Package browser attaches to Chrome over the DevTools protocol and exposes the
// active tab as a capture source.
package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL points at a running Chrome started with
	// --remote-debugging-port, either the ws:// browser URL or the
	// http://host:port endpoint. Empty launches a local Chrome.
	RemoteURL string

	// Headless only applies to a launched Chrome.
	Headless bool
}

// Manager owns the connection to Chrome.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	tabs    map[proto.TargetTargetID]*Tab
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Browser connects on first use and returns the shared handle.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser != nil {
		return m.browser, nil
	}

	wsURL, err := m.controlURL()
	if err != nil {
		return nil, err
	}
	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		m.cleanupLocked()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	// Detach from the connect context so later calls pick their own.
	m.browser = b.Context(context.Background())
	log.Printf("browser: connected to %s", wsURL)
	return m.browser, nil
}

func (m *Manager) controlURL() (string, error) {
	if u := strings.TrimSpace(m.cfg.RemoteURL); u != "" {
		if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
			return u, nil
		}
		resolved, err := launcher.ResolveURL(u)
		if err != nil {
			return "", fmt.Errorf("browser: resolve %s: %w", u, err)
		}
		return resolved, nil
	}

	l := launcher.New().Headless(m.cfg.Headless)
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l
	log.Printf("browser: launched local chrome (headless=%v)", m.cfg.Headless)
	return u, nil
}

// ActiveTab returns the tab the user is looking at: the focused visible page,
// else the first visible page, else the first page.
func (m *Manager) ActiveTab(ctx context.Context) (*Tab, error) {
	b, err := m.Browser(ctx)
	if err != nil {
		return nil, err
	}
	pages, err := b.Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("browser: no open tabs")
	}
	m.forgetClosed(pages)

	var visible *rod.Page
	for _, p := range pages {
		res, err := p.Context(ctx).Eval(`() => [document.visibilityState === 'visible', document.hasFocus()]`)
		if err != nil {
			continue
		}
		state := res.Value.Arr()
		if len(state) < 2 || !state[0].Bool() {
			continue
		}
		if state[1].Bool() {
			return m.tab(ctx, p)
		}
		if visible == nil {
			visible = p
		}
	}
	if visible != nil {
		return m.tab(ctx, visible)
	}
	return m.tab(ctx, pages[0])
}

// NewPage opens a blank tab with the stealth patches applied, so quiz sites
// see an ordinary browser.
func (m *Manager) NewPage(ctx context.Context) (*Tab, error) {
	b, err := m.Browser(ctx)
	if err != nil {
		return nil, err
	}
	p, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: new page: %w", err)
	}
	return m.tab(ctx, p)
}

// tab returns the Tab for p. The pointer tracker is installed only the first
// time a page is seen.
func (m *Manager) tab(ctx context.Context, p *rod.Page) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tabs[p.TargetID]; ok {
		return t, nil
	}
	t, err := NewTab(ctx, p)
	if err != nil {
		return nil, err
	}
	if m.tabs == nil {
		m.tabs = make(map[proto.TargetTargetID]*Tab)
	}
	m.tabs[p.TargetID] = t
	return t, nil
}

func (m *Manager) forgetClosed(open rod.Pages) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := make(map[proto.TargetTargetID]bool, len(open))
	for _, p := range open {
		live[p.TargetID] = true
	}
	for id := range m.tabs {
		if !live[id] {
			delete(m.tabs, id)
		}
	}
}

// Close disconnects and kills a launched Chrome. A remote Chrome keeps running.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked()
	return nil
}

func (m *Manager) cleanupLocked() {
	if m.browser != nil && m.lnch != nil {
		_ = m.browser.Close()
	}
	m.browser = nil
	m.tabs = nil
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
}
