package effects

import (
	"errors"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

func registerBasic(r *Registry) {
	r.Register("grayscale", Basic(func(img image.Image, _ Params) (image.Image, error) {
		return imaging.Grayscale(img), nil
	}))
	r.Alias("greyscale", "grayscale")

	r.Register("negative", Basic(func(img image.Image, _ Params) (image.Image, error) {
		return imaging.Invert(img), nil
	}))
	r.Alias("invert", "negative")

	r.Register("blur", Basic(func(img image.Image, p Params) (image.Image, error) {
		sigma, err := p.Float(2, "sigma", "radius", "value")
		if err != nil {
			return nil, err
		}
		if sigma <= 0 {
			return nil, errors.New("blur sigma must be positive")
		}
		return imaging.Blur(img, sigma), nil
	}))

	r.Register("sharpen", Basic(func(img image.Image, p Params) (image.Image, error) {
		sigma, err := p.Float(1, "sigma", "value")
		if err != nil {
			return nil, err
		}
		if sigma <= 0 {
			return nil, errors.New("sharpen sigma must be positive")
		}
		return imaging.Sharpen(img, sigma), nil
	}))

	r.Register("gamma", Basic(func(img image.Image, p Params) (image.Image, error) {
		gamma, err := p.Float(1, "gamma", "value")
		if err != nil {
			return nil, err
		}
		if gamma <= 0 {
			return nil, errors.New("gamma must be positive")
		}
		return imaging.AdjustGamma(img, gamma), nil
	}))

	r.Register("colorize", Basic(func(img image.Image, p Params) (image.Image, error) {
		tint, ok, err := p.Color("color", "value")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("colorize requires a color")
		}
		return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
			lum := luminance(c)
			return color.NRGBA{
				R: uint8(float64(tint.R) * lum),
				G: uint8(float64(tint.G) * lum),
				B: uint8(float64(tint.B) * lum),
				A: c.A,
			}
		}), nil
	}))
	r.Alias("colourize", "colorize")
}

// luminance is Rec. 601 luma scaled to 0..1.
func luminance(c color.NRGBA) float64 {
	return (0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)) / 255
}
