package screenshot

import (
	"context"
	"errors"

	"screen-quiz-llm/src/region"
)

// ErrNoDocument is returned by sources that cannot see a page structure.
var ErrNoDocument = errors.New("no document available")

// PointerFunc reports the current pointer in screen coordinates.
type PointerFunc func() (x, y int, ok bool)

// Desktop captures the primary display. It has no DOM, so selection falls
// through to the pointer-centered region.
type Desktop struct {
	pointer PointerFunc
}

// NewDesktop returns a desktop source reading the pointer from pointer.
func NewDesktop(pointer PointerFunc) *Desktop {
	return &Desktop{pointer: pointer}
}

func (d *Desktop) Pointer(ctx context.Context) (region.Point, error) {
	bounds, err := GetDisplayBounds()
	if err != nil {
		return region.Point{}, err
	}
	if d.pointer != nil {
		if x, y, ok := d.pointer(); ok {
			return region.Point{X: float64(x - bounds.Min.X), Y: float64(y - bounds.Min.Y)}, nil
		}
	}
	// Never saw the mouse move: aim at the middle of the screen.
	return region.Point{X: float64(bounds.Dx()) / 2, Y: float64(bounds.Dy()) / 2}, nil
}

func (d *Desktop) Viewport(ctx context.Context) (region.Viewport, error) {
	bounds, err := GetDisplayBounds()
	if err != nil {
		return region.Viewport{}, err
	}
	return region.Viewport{Width: bounds.Dx(), Height: bounds.Dy(), Scale: 1}, nil
}

func (d *Desktop) Document(ctx context.Context) (region.Document, error) {
	return nil, ErrNoDocument
}

func (d *Desktop) Hide(ctx context.Context, selectors []string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

func (d *Desktop) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := CaptureDisplay()
	return data, err
}
