package runtimeinit

import (
	"context"
	"strings"

	"screen-quiz-llm/src/browser"
	"screen-quiz-llm/src/capture"
	"screen-quiz-llm/src/clipboard"
	"screen-quiz-llm/src/config"
	"screen-quiz-llm/src/region"
	"screen-quiz-llm/src/screenshot"
)

// LaunchBrowser as BROWSER_URL starts a private Chrome instead of attaching.
const LaunchBrowser = "launch"

// Selector builds the region selector from the scoring config.
func Selector(s config.Scoring) *region.Selector {
	return region.NewSelector(region.Options{
		Weights:         region.Weights{Keyword: s.Keyword, Options: s.Options, Math: s.Math},
		ProximityRadius: s.ProximityRadius,
	})
}

// CaptureSession wires the configured source to the clipboard. Without a
// browser URL it captures the desktop, using pointer for the mouse position.
// The returned function releases the browser connection.
func CaptureSession(cfg *config.Config, pointer screenshot.PointerFunc) (*capture.Session, func()) {
	opts := capture.Options{
		Selector:      Selector(cfg.Scoring),
		Deadline:      cfg.CaptureDeadline,
		HideSelectors: cfg.HideSelectors,
	}

	url := strings.TrimSpace(cfg.BrowserURL)
	if url == "" {
		return capture.New(screenshot.NewDesktop(pointer), clipboard.Sink{}, opts), func() {}
	}

	bcfg := browser.Config{RemoteURL: url}
	if strings.EqualFold(url, LaunchBrowser) {
		bcfg = browser.Config{}
	}
	mgr := browser.NewManager(bcfg)
	resolve := func(ctx context.Context) (capture.Source, error) {
		tab, err := mgr.ActiveTab(ctx)
		if err != nil {
			return nil, err
		}
		return tab, nil
	}
	return capture.NewDynamic(resolve, clipboard.Sink{}, opts), func() { _ = mgr.Close() }
}
