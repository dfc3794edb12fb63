package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"

	"github.com/kbinani/screenshot"

	"screen-quiz-llm/src/region"
)

// CaptureDisplay captures the primary display as PNG.
func CaptureDisplay() ([]byte, image.Rectangle, error) {
	bounds, err := GetDisplayBounds()
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, bounds, fmt.Errorf("failed to capture display: %w", err)
	}
	data, err := encode(img)
	return data, bounds, err
}

// GetDisplayBounds returns the bounds of the primary display
func GetDisplayBounds() (image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return image.Rectangle{}, fmt.Errorf("no active displays found")
	}
	return screenshot.GetDisplayBounds(0), nil
}

// CropPNG cuts rect (viewport pixels) out of a PNG screenshot. scale is the
// device pixel ratio of the screenshot; values <= 0 mean 1.
func CropPNG(data []byte, rect region.Rect, scale float64) ([]byte, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("invalid region dimensions: width=%.0f, height=%.0f", rect.Width, rect.Height)
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	bounds := ScaleRect(rect, scale).Add(src.Bounds().Min).Intersect(src.Bounds())
	if bounds.Empty() {
		return nil, fmt.Errorf("region %+v is outside the %dx%d screenshot", rect, src.Bounds().Dx(), src.Bounds().Dy())
	}

	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return encode(dst)
}

// ScaleRect converts a viewport rectangle to device pixels.
func ScaleRect(rect region.Rect, scale float64) image.Rectangle {
	if scale <= 0 {
		scale = 1
	}
	x0 := int(math.Floor(rect.X * scale))
	y0 := int(math.Floor(rect.Y * scale))
	x1 := int(math.Ceil(rect.Right() * scale))
	y1 := int(math.Ceil(rect.Bottom() * scale))
	return image.Rect(x0, y0, x1, y1)
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}
