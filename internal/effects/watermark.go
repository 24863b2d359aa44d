package effects

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const watermarkPad = 12

// watermark stamps a single line of text in the bitmap face. Params: text
// (or value), opacity in (0,1], gravity as a compass point, color as hex.
func watermark(img image.Image, p Params) (image.Image, error) {
	text := strings.TrimSpace(p["text"])
	if text == "" {
		text = strings.TrimSpace(p["value"])
	}
	if text == "" || text == "true" {
		return nil, errors.New("watermark requires text")
	}

	opacity, err := p.Float(0.65, "opacity", "alpha")
	if err != nil {
		return nil, err
	}
	if opacity <= 0 || opacity > 1 {
		return nil, fmt.Errorf("watermark opacity must be in (0,1], got %v", opacity)
	}
	ink, ok, err := p.Color("color")
	if err != nil {
		return nil, err
	}
	if !ok {
		ink = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	}
	ink.A = uint8(math.Round(opacity * float64(ink.A)))

	dst := imaging.Clone(img)
	face := basicfont.Face7x13
	metrics := face.Metrics()
	drawer := &font.Drawer{Dst: dst, Face: face, Src: image.NewUniform(ink)}

	width := drawer.MeasureString(text).Ceil()
	x, y := watermarkPosition(dst.Bounds(), width, metrics.Height.Ceil(), metrics.Ascent.Ceil(), p["gravity"])
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
	return dst, nil
}

// watermarkPosition returns the pen origin (left edge, baseline) for text of
// the given size. Unknown gravities fall back to southeast.
func watermarkPosition(bounds image.Rectangle, textWidth, textHeight, ascent int, gravity string) (int, int) {
	minX, minY := bounds.Min.X, bounds.Min.Y
	maxX, maxY := bounds.Max.X, bounds.Max.Y

	left := minX + watermarkPad
	center := minX + (bounds.Dx()-textWidth)/2
	right := maxX - textWidth - watermarkPad

	top := minY + watermarkPad + ascent
	middle := minY + (bounds.Dy()-textHeight)/2 + ascent
	bottom := maxY - watermarkPad

	var x, y int
	switch strings.ToLower(strings.TrimSpace(gravity)) {
	case "northwest", "top-left":
		x, y = left, top
	case "north", "top":
		x, y = center, top
	case "northeast", "top-right":
		x, y = right, top
	case "west", "left":
		x, y = left, middle
	case "center", "centre":
		x, y = center, middle
	case "east", "right":
		x, y = right, middle
	case "southwest", "bottom-left":
		x, y = left, bottom
	case "south", "bottom":
		x, y = center, bottom
	default:
		x, y = right, bottom
	}
	return clampInt(x, minX, maxX), clampInt(y, minY+ascent, maxY)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
