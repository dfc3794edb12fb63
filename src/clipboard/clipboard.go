package clipboard

import (
	"context"
	"errors"
	"sync"

	"golang.design/x/clipboard"
)

var (
	writeMu sync.Mutex
	initErr error
	once    sync.Once
)

// Init initializes the platform clipboard. Later calls return the first result.
func Init() error {
	once.Do(func() { initErr = clipboard.Init() })
	return initErr
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func Write(text string) error {
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// WriteImage places a PNG on the clipboard.
func WriteImage(png []byte) error {
	if len(png) == 0 {
		return errors.New("clipboard: empty image")
	}
	if err := Init(); err != nil {
		return err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtImage, png)
	return nil
}

// WatchImages streams every new PNG that lands on the clipboard until ctx is done.
func WatchImages(ctx context.Context) (<-chan []byte, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return clipboard.Watch(ctx, clipboard.FmtImage), nil
}

// Sink adapts the package functions to capture.Sink.
type Sink struct{}

func (Sink) WriteImage(png []byte) error { return WriteImage(png) }
