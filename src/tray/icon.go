package tray

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/png"
	"runtime"
)

// iconPNG draws the tray icon: a dashed selection frame with a question mark
// block, sized 32x32.
func iconPNG(processing bool) []byte {
	const size = 32
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	frame := color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	fill := color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	if processing {
		fill = color.NRGBA{R: 0xe8, G: 0x8a, B: 0x00, A: 0xff}
	}

	for i := 2; i < size-2; i++ {
		if (i/3)%2 == 0 {
			img.SetNRGBA(i, 2, frame)
			img.SetNRGBA(i, size-3, frame)
			img.SetNRGBA(2, i, frame)
			img.SetNRGBA(size-3, i, frame)
		}
	}
	// "?" from a few filled cells on an 8x8 grid.
	glyph := []string{
		"..XXXX..",
		".X....X.",
		"......X.",
		".....X..",
		"....X...",
		"....X...",
		"........",
		"....X...",
	}
	for gy, row := range glyph {
		for gx, c := range row {
			if c != 'X' {
				continue
			}
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					img.SetNRGBA(8+gx*2+dx, 8+gy*2+dy, fill)
				}
			}
		}
	}

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

// Icon returns the icon bytes in the format the platform tray expects: ICO on
// Windows, PNG elsewhere.
func Icon(processing bool) []byte {
	data := iconPNG(processing)
	if runtime.GOOS == "windows" {
		return wrapICO(data, 32)
	}
	return data
}

// wrapICO embeds a PNG in a single-image ICO container.
func wrapICO(pngData []byte, size int) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Reserved, Type, Count uint16
	}{0, 1, 1})
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Width, Height, Colors, Reserved uint8
		Planes, BitCount                uint16
		Size, Offset                    uint32
	}{uint8(size), uint8(size), 0, 0, 1, 32, uint32(len(pngData)), 6 + 16})
	buf.Write(pngData)
	return buf.Bytes()
}
