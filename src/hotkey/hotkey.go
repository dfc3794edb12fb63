// Package hotkey turns the global keyboard/mouse hook into named commands and
// keeps track of the last pointer position.
package hotkey

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	gohook "github.com/robotn/gohook"
)

// Binding ties a key combination to a command name.
type Binding struct {
	Command string
	Combo   *Combo
}

// NewBinding parses hotkeyConfig ("Ctrl+Alt+Q") for command.
func NewBinding(command, hotkeyConfig string) (Binding, error) {
	combo, err := ParseCombo(hotkeyConfig)
	if err != nil {
		return Binding{}, err
	}
	return Binding{Command: command, Combo: combo}, nil
}

// Listen starts the hook and calls fire with the command name each time a
// binding's combination is completed. Every mouse move updates tracker when it
// is non-nil. The hook stops when ctx is done.
func Listen(ctx context.Context, bindings []Binding, tracker *PointerTracker, fire func(command string)) error {
	if len(bindings) == 0 {
		return fmt.Errorf("hotkey: no bindings")
	}
	for _, b := range bindings {
		log.Printf("Hotkey listener configured for %s: %s", b.Command, b.Combo)
	}

	evChan := gohook.Start()
	if evChan == nil {
		return fmt.Errorf("hotkey: gohook.Start returned nil channel")
	}

	go func() {
		<-ctx.Done()
		gohook.End()
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()
		for ev := range evChan {
			switch ev.Kind {
			case gohook.MouseMove, gohook.MouseDrag:
				if tracker != nil {
					tracker.Set(int(ev.X), int(ev.Y))
				}
			case gohook.KeyDown, gohook.KeyUp:
				down := ev.Kind == gohook.KeyDown
				for _, b := range bindings {
					if b.Combo.Handle(ev.Rawcode, down) {
						log.Printf("Hotkey activated: %s -> %s", b.Combo, b.Command)
						if fire != nil {
							fire(b.Command)
						}
					}
				}
			}
		}
		log.Printf("Event channel closed")
	}()
	return nil
}

// Combo tracks the pressed state of one key combination.
type Combo struct {
	text string
	mu   sync.Mutex
	keys []keyState
}

type keyState struct {
	name     string
	rawcodes []uint16
	pressed  bool
}

// ParseCombo builds a Combo from a hotkey string like "Ctrl+Alt+q".
func ParseCombo(hotkeyConfig string) (*Combo, error) {
	c := &Combo{text: hotkeyConfig}
	for _, name := range parseHotkey(hotkeyConfig) {
		rawcodes := keyNameToRawcodes(name)
		if len(rawcodes) == 0 {
			return nil, fmt.Errorf("hotkey: cannot map key %q in %q", name, hotkeyConfig)
		}
		c.keys = append(c.keys, keyState{name: name, rawcodes: rawcodes})
	}
	if len(c.keys) == 0 {
		return nil, fmt.Errorf("hotkey: no valid keys in %q", hotkeyConfig)
	}
	return c, nil
}

func (c *Combo) String() string { return c.text }

// Handle feeds one key event and reports whether it completed the combination.
// States reset after a match so holding the keys fires once.
func (c *Combo) Handle(rawcode uint16, down bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.keys {
		for _, rc := range c.keys[i].rawcodes {
			if rc == rawcode {
				c.keys[i].pressed = down
				break
			}
		}
	}
	if !down {
		return false
	}
	for i := range c.keys {
		if !c.keys[i].pressed {
			return false
		}
	}
	for i := range c.keys {
		c.keys[i].pressed = false
	}
	return true
}

// PointerTracker remembers the last pointer position reported by the hook.
type PointerTracker struct {
	pos  atomic.Uint64
	seen atomic.Bool
}

func (p *PointerTracker) Set(x, y int) {
	p.pos.Store(uint64(uint32(int32(x)))<<32 | uint64(uint32(int32(y))))
	p.seen.Store(true)
}

// Position returns the last position, or ok=false before any mouse event.
func (p *PointerTracker) Position() (x, y int, ok bool) {
	if !p.seen.Load() {
		return 0, 0, false
	}
	v := p.pos.Load()
	return int(int32(uint32(v >> 32))), int(int32(uint32(v))), true
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names
func parseHotkey(hotkeyConfig string) []string {
	var keys []string
	for _, part := range strings.Split(strings.ToLower(hotkeyConfig), "+") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
			continue
		case "control":
			keys = append(keys, "ctrl")
		case "win", "cmd", "super":
			keys = append(keys, "cmd")
		default:
			keys = append(keys, part)
		}
	}
	return keys
}

// Windows virtual key codes; modifiers list both left and right variants.
var rawcodes = buildRawcodes()

func buildRawcodes() map[string][]uint16 {
	m := map[string][]uint16{
		"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
		"alt":   {164, 165}, // VK_LMENU, VK_RMENU
		"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
		"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

		"space":     {32},
		"enter":     {13},
		"return":    {13},
		"esc":       {27},
		"escape":    {27},
		"tab":       {9},
		"backspace": {8},
		"delete":    {46},
		"del":       {46},
		"insert":    {45},
		"ins":       {45},
		"home":      {36},
		"end":       {35},
		"pageup":    {33},
		"pgup":      {33},
		"pagedown":  {34},
		"pgdn":      {34},
		"left":      {37},
		"up":        {38},
		"right":     {39},
		"down":      {40},
	}
	for c := 'a'; c <= 'z'; c++ {
		m[string(c)] = []uint16{uint16(c - 'a' + 65)}
	}
	for c := '0'; c <= '9'; c++ {
		m[string(c)] = []uint16{uint16(c - '0' + 48)}
	}
	for n := 1; n <= 24; n++ {
		m[fmt.Sprintf("f%d", n)] = []uint16{uint16(111 + n)}
	}
	return m
}

// keyNameToRawcodes maps a key name to its rawcodes, nil when unknown.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	switch keyName {
	case "win", "super":
		keyName = "cmd"
	case "control":
		keyName = "ctrl"
	}
	codes, ok := rawcodes[keyName]
	if !ok {
		log.Printf("WARNING: Unknown key name '%s', cannot map to rawcode", keyName)
		return nil
	}
	return codes
}
