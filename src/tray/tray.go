// Package tray shows the resident in the system tray.
package tray

import (
	"log"
	"sync"

	"github.com/getlantern/systray"
)

type Config struct {
	Title   string
	Tooltip string
	// OnCapture runs when the user picks "Capture".
	OnCapture func()
	// OnExit runs after the tray has shut down.
	OnExit func()
}

type Tray struct {
	cfg   Config
	ready chan struct{}
	once  sync.Once
}

func New(cfg Config) *Tray {
	return &Tray{cfg: cfg, ready: make(chan struct{})}
}

// Run blocks until Quit is called or the user picks "Quit".
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(Icon(false))
	systray.SetTitle(t.cfg.Title)
	systray.SetTooltip(t.cfg.Tooltip)

	mCapture := systray.AddMenuItem("Capture", "Capture the question under the pointer")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")
	close(t.ready)

	go func() {
		for {
			select {
			case <-mCapture.ClickedCh:
				log.Printf("tray: capture requested")
				if t.cfg.OnCapture != nil {
					t.cfg.OnCapture()
				}
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	if t.cfg.OnExit != nil {
		t.cfg.OnExit()
	}
}

// SetProcessing switches icon and tooltip while a capture runs. Calls made
// before the tray is ready are ignored.
func (t *Tray) SetProcessing(busy bool) {
	select {
	case <-t.ready:
	default:
		return
	}
	systray.SetIcon(Icon(busy))
	if busy {
		systray.SetTooltip(t.cfg.Title + ": processing...")
	} else {
		systray.SetTooltip(t.cfg.Tooltip)
	}
}

// Quit stops the tray loop.
func (t *Tray) Quit() {
	t.once.Do(systray.Quit)
}
