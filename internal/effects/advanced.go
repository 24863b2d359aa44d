package effects

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

func registerAdvanced(r *Registry) {
	r.Register("sepia", Advanced(func(img image.Image, p Params) (image.Image, error) {
		pct, err := p.Float(80, "percentage", "value")
		if err != nil {
			return nil, err
		}
		return draw(img, gift.Sepia(float32(pct))), nil
	}))

	r.Register("contrast", Advanced(func(img image.Image, p Params) (image.Image, error) {
		pct, err := p.Float(10, "percentage", "value")
		if err != nil {
			return nil, err
		}
		return draw(img, gift.Contrast(float32(pct))), nil
	}))

	r.Register("brightness", Advanced(func(img image.Image, p Params) (image.Image, error) {
		pct, err := p.Float(10, "percentage", "value")
		if err != nil {
			return nil, err
		}
		return draw(img, gift.Brightness(float32(pct))), nil
	}))

	r.Register("saturation", Advanced(func(img image.Image, p Params) (image.Image, error) {
		pct, err := p.Float(20, "percentage", "value")
		if err != nil {
			return nil, err
		}
		return draw(img, gift.Saturation(float32(pct))), nil
	}))

	// Modulate takes percentages where 100 leaves the channel unchanged.
	r.Register("modulate", Advanced(func(img image.Image, p Params) (image.Image, error) {
		brightness, err := p.Float(100, "brightness")
		if err != nil {
			return nil, err
		}
		saturation, err := p.Float(100, "saturation")
		if err != nil {
			return nil, err
		}
		hue, err := p.Float(100, "hue")
		if err != nil {
			return nil, err
		}
		return draw(img,
			gift.Brightness(float32(brightness-100)),
			gift.Saturation(float32(saturation-100)),
			gift.Hue(float32((hue-100)*1.8)),
		), nil
	}))

	r.Register("tint", Advanced(func(img image.Image, p Params) (image.Image, error) {
		tint, ok, err := p.Color("color", "value")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("tint requires a color")
		}
		amount, err := p.Float(0.5, "amount")
		if err != nil {
			return nil, err
		}
		tr, tg, tb := float32(tint.R)/255, float32(tint.G)/255, float32(tint.B)/255
		a := float32(amount)
		return draw(img, gift.ColorFunc(func(r0, g0, b0, a0 float32) (float32, float32, float32, float32) {
			lum := 0.299*r0 + 0.587*g0 + 0.114*b0
			weight := a * (1 - float32(math.Abs(float64(2*lum-1))))
			return mix(r0, tr*lum*2, weight), mix(g0, tg*lum*2, weight), mix(b0, tb*lum*2, weight), a0
		})), nil
	}))

	r.Register("colorblend", Advanced(func(img image.Image, p Params) (image.Image, error) {
		blend, ok, err := p.Color("color", "value")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("colorblend requires a color")
		}
		opacity, err := p.Float(0.5, "opacity")
		if err != nil {
			return nil, err
		}
		br, bg, bb := float32(blend.R)/255, float32(blend.G)/255, float32(blend.B)/255
		o := float32(opacity)
		return draw(img, gift.ColorFunc(func(r0, g0, b0, a0 float32) (float32, float32, float32, float32) {
			return mix(r0, br, o), mix(g0, bg, o), mix(b0, bb, o), a0
		})), nil
	}))

	r.Register("posterize", Advanced(func(img image.Image, p Params) (image.Image, error) {
		levels, err := p.Int(4, "levels", "value")
		if err != nil {
			return nil, err
		}
		if levels < 2 || levels > 256 {
			return nil, fmt.Errorf("posterize levels must be between 2 and 256, got %d", levels)
		}
		steps := float64(levels - 1)
		q := func(v float32) float32 { return float32(math.Round(float64(v)*steps) / steps) }
		return draw(img, gift.ColorFunc(func(r0, g0, b0, a0 float32) (float32, float32, float32, float32) {
			return q(r0), q(g0), q(b0), a0
		})), nil
	}))

	r.Register("unsharpmask", Advanced(func(img image.Image, p Params) (image.Image, error) {
		sigma, err := p.Float(1, "sigma", "radius")
		if err != nil {
			return nil, err
		}
		amount, err := p.Float(1, "amount")
		if err != nil {
			return nil, err
		}
		threshold, err := p.Float(0.05, "threshold")
		if err != nil {
			return nil, err
		}
		if sigma <= 0 {
			return nil, errors.New("unsharpmask sigma must be positive")
		}
		return draw(img, gift.UnsharpMask(float32(sigma), float32(amount), float32(threshold))), nil
	}))

	r.Register("gaussianblur", Advanced(func(img image.Image, p Params) (image.Image, error) {
		sigma, err := p.Float(2, "sigma", "value")
		if err != nil {
			return nil, err
		}
		if sigma <= 0 {
			return nil, errors.New("gaussianblur sigma must be positive")
		}
		return draw(img, gift.GaussianBlur(float32(sigma))), nil
	}))

	r.Register("despeckle", Advanced(func(img image.Image, _ Params) (image.Image, error) {
		return draw(img, gift.Median(3, true)), nil
	}))

	r.Register("pixelate", Advanced(func(img image.Image, p Params) (image.Image, error) {
		size, err := p.Int(8, "size", "value")
		if err != nil {
			return nil, err
		}
		if size < 1 {
			return nil, errors.New("pixelate size must be positive")
		}
		return draw(img, gift.Pixelate(size)), nil
	}))

	r.Register("opacity", Advanced(func(img image.Image, p Params) (image.Image, error) {
		value, err := p.Float(1, "opacity", "value")
		if err != nil {
			return nil, err
		}
		if value < 0 || value > 1 {
			return nil, fmt.Errorf("opacity must be between 0 and 1, got %v", value)
		}
		o := float32(value)
		return draw(img, gift.ColorFunc(func(r0, g0, b0, a0 float32) (float32, float32, float32, float32) {
			return r0, g0, b0, a0 * o
		})), nil
	}))

	r.Register("levels", Advanced(func(img image.Image, p Params) (image.Image, error) {
		black, err := p.Float(0, "black")
		if err != nil {
			return nil, err
		}
		white, err := p.Float(255, "white")
		if err != nil {
			return nil, err
		}
		gamma, err := p.Float(1, "gamma")
		if err != nil {
			return nil, err
		}
		if white <= black || gamma <= 0 {
			return nil, errors.New("levels needs white > black and a positive gamma")
		}
		return remap(img, func(ch int, v uint8) uint8 {
			x := (float64(v) - black) / (white - black)
			return unit(math.Pow(clampUnit(x), 1/gamma))
		}), nil
	}))

	r.Register("normalize", Advanced(func(img image.Image, _ Params) (image.Image, error) {
		return stretch(img, 0, 0), nil
	}))

	r.Register("contraststretch", Advanced(func(img image.Image, p Params) (image.Image, error) {
		black, err := p.Float(2, "black")
		if err != nil {
			return nil, err
		}
		white, err := p.Float(1, "white")
		if err != nil {
			return nil, err
		}
		if black < 0 || white < 0 || black+white >= 100 {
			return nil, errors.New("contraststretch clip percentages must be non-negative and sum below 100")
		}
		return stretch(img, black/100, white/100), nil
	}))

	r.Register("equalize", Advanced(func(img image.Image, _ Params) (image.Image, error) {
		return equalize(img), nil
	}))

	r.Register("watermark", Advanced(watermark))
	r.Alias("text", "watermark")
}

func draw(img image.Image, filters ...gift.Filter) image.Image {
	g := gift.New(filters...)
	dst := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

func mix(a, b, w float32) float32 {
	v := a*(1-w) + b*w
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func unit(v float64) uint8 {
	return uint8(math.Round(clampUnit(v) * 255))
}

type histogram [3][256]int

func collect(src *image.NRGBA) (histogram, int) {
	var h histogram
	total := 0
	for i := 0; i+3 < len(src.Pix); i += 4 {
		h[0][src.Pix[i]]++
		h[1][src.Pix[i+1]]++
		h[2][src.Pix[i+2]]++
		total++
	}
	return h, total
}

// remap rewrites the RGB channels of a copy of img through fn; alpha is kept.
func remap(img image.Image, fn func(ch int, v uint8) uint8) image.Image {
	var table [3][256]uint8
	for ch := 0; ch < 3; ch++ {
		for v := 0; v < 256; v++ {
			table[ch][v] = fn(ch, uint8(v))
		}
	}
	return remapTable(imaging.Clone(img), table)
}

func remapTable(dst *image.NRGBA, table [3][256]uint8) *image.NRGBA {
	for i := 0; i+3 < len(dst.Pix); i += 4 {
		dst.Pix[i] = table[0][dst.Pix[i]]
		dst.Pix[i+1] = table[1][dst.Pix[i+1]]
		dst.Pix[i+2] = table[2][dst.Pix[i+2]]
	}
	return dst
}

// stretch maps each channel's [low, high] percentile range onto 0..255.
func stretch(img image.Image, lowClip, highClip float64) image.Image {
	dst := imaging.Clone(img)
	hist, total := collect(dst)
	if total == 0 {
		return dst
	}

	var table [3][256]uint8
	for ch := 0; ch < 3; ch++ {
		lo, hi := percentile(hist[ch], total, lowClip), percentile(hist[ch], total, 1-highClip)
		for v := 0; v < 256; v++ {
			if hi <= lo {
				table[ch][v] = uint8(v)
				continue
			}
			table[ch][v] = unit(float64(v-lo) / float64(hi-lo))
		}
	}
	return remapTable(dst, table)
}

func percentile(counts [256]int, total int, frac float64) int {
	target := int(math.Round(frac * float64(total)))
	seen := 0
	for v := 0; v < 256; v++ {
		seen += counts[v]
		if seen > target || (frac >= 1 && seen >= total) {
			return v
		}
	}
	return 255
}

func equalize(img image.Image) image.Image {
	dst := imaging.Clone(img)
	hist, total := collect(dst)
	if total == 0 {
		return dst
	}

	var table [3][256]uint8
	for ch := 0; ch < 3; ch++ {
		cdfMin, cum := 0, 0
		for v := 0; v < 256; v++ {
			if hist[ch][v] > 0 {
				cdfMin = hist[ch][v]
				break
			}
		}
		for v := 0; v < 256; v++ {
			cum += hist[ch][v]
			if total == cdfMin {
				table[ch][v] = uint8(v)
				continue
			}
			table[ch][v] = unit(float64(cum-cdfMin) / float64(total-cdfMin))
		}
	}
	return remapTable(dst, table)
}
