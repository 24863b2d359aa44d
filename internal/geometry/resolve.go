package geometry

import (
	"image"
	"math"

	"github.com/dunamismax/pixelforge/internal/transform"
)

// Resolve computes the output size of d applied to a srcW x srcH image
// without touching pixel data. A zero result axis means undetermined.
func Resolve(d transform.Descriptor, srcW, srcH int) (int, int) {
	tw, th := d.Width, d.Height
	if tw <= 0 && th <= 0 {
		return max(srcW, 0), max(srcH, 0)
	}
	if srcW <= 0 || srcH <= 0 {
		return max(tw, 0), max(th, 0)
	}

	ratio := float64(srcW) / float64(srcH)
	if tw > 0 && th > 0 {
		target := float64(tw) / float64(th)
		switch d.Fit {
		case transform.FitMin, transform.FitMax:
			if ratio < target {
				w := min(tw, srcW)
				return w, derive(float64(w) / ratio)
			}
			h := min(th, srcH)
			return derive(float64(h) * ratio), h
		case transform.FitClip, transform.FitFit:
			if ratio > target {
				w := min(tw, srcW)
				return w, derive(float64(w) / ratio)
			}
			h := min(th, srcH)
			return derive(float64(h) * ratio), h
		case transform.FitCropOnly:
			return min(tw, srcW), min(th, srcH)
		default:
			return tw, th
		}
	}

	switch d.Fit {
	case transform.FitMin, transform.FitMax, transform.FitClip, transform.FitFit:
		if tw > 0 {
			w := min(tw, srcW)
			return w, derive(float64(w) / ratio)
		}
		h := min(th, srcH)
		return derive(float64(h) * ratio), h
	case transform.FitCropOnly:
		if tw > 0 {
			return min(tw, srcW), srcH
		}
		return srcW, min(th, srcH)
	default:
		if tw > 0 {
			return tw, derive(float64(tw) / ratio)
		}
		return derive(float64(th) * ratio), th
	}
}

func derive(v float64) int {
	return max(1, int(math.Round(v)))
}

// Cover returns the smallest size with the source aspect ratio that covers
// a w x h box.
func Cover(srcW, srcH, w, h int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return w, h
	}
	scale := math.Max(float64(w)/float64(srcW), float64(h)/float64(srcH))
	cw := max(w, int(math.Round(float64(srcW)*scale)))
	ch := max(h, int(math.Round(float64(srcH)*scale)))
	return cw, ch
}

// Contain returns the largest size with the source aspect ratio that fits
// inside a w x h box, never larger than the source unless upscale is set.
func Contain(srcW, srcH, w, h int, upscale bool) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return w, h
	}
	scale := math.Min(float64(w)/float64(srcW), float64(h)/float64(srcH))
	if !upscale && scale > 1 {
		scale = 1
	}
	cw := min(w, derive(float64(srcW)*scale))
	ch := min(h, derive(float64(srcH)*scale))
	return cw, ch
}

// FocalCrop places a w x h window inside a fullW x fullH image so that the
// focal point stays as close to the window centre as the bounds allow.
func FocalCrop(fullW, fullH, w, h int, focal transform.Position) image.Rectangle {
	w = min(w, fullW)
	h = min(h, fullH)
	x := clamp(int(math.Round(focal.X*float64(fullW)-float64(w)/2)), 0, fullW-w)
	y := clamp(int(math.Round(focal.Y*float64(fullH)-float64(h)/2)), 0, fullH-h)
	return image.Rect(x, y, x+w, y+h)
}

// Offset positions an inner box within an outer one along the focal point.
func Offset(outerW, outerH, innerW, innerH int, focal transform.Position) image.Point {
	return image.Pt(
		int(math.Round(float64(outerW-innerW)*focal.X)),
		int(math.Round(float64(outerH-innerH)*focal.Y)),
	)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
