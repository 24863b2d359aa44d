package backend

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelforge/internal/effects"
	"github.com/dunamismax/pixelforge/internal/geometry"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// render applies the descriptor's geometry to img. Output dimensions always
// match geometry.Resolve for the same descriptor and source size.
func render(img image.Image, d transform.Descriptor, format transform.Format) (image.Image, error) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if !d.HasSize() || srcW == 0 || srcH == 0 {
		return img, nil
	}

	w, h := geometry.Resolve(d, srcW, srcH)
	switch d.Fit {
	case transform.FitScale, transform.FitStretch:
		return imaging.Resize(img, w, h, imaging.Lanczos), nil

	case transform.FitCrop:
		cw, ch := geometry.Cover(srcW, srcH, w, h)
		scaled := imaging.Resize(img, cw, ch, imaging.Lanczos)
		return imaging.Crop(scaled, geometry.FocalCrop(cw, ch, w, h, d.Position)), nil

	case transform.FitCropOnly:
		rect := geometry.FocalCrop(srcW, srcH, w, h, d.Position)
		return imaging.Crop(img, rect.Add(b.Min)), nil

	case transform.FitLetterbox, transform.FitFill, transform.FitFillMax, transform.FitClamp:
		bg, err := background(d, format)
		if err != nil {
			return nil, err
		}
		iw, ih := geometry.Contain(srcW, srcH, w, h, d.Fit != transform.FitFillMax)
		inner := imaging.Resize(img, iw, ih, imaging.Lanczos)
		canvas := imaging.New(w, h, bg)
		return imaging.Paste(canvas, inner, geometry.Offset(w, h, iw, ih, d.Position)), nil

	default:
		if w == srcW && h == srcH {
			return img, nil
		}
		return imaging.Resize(img, w, h, imaging.Lanczos), nil
	}
}

// background is the letterbox colour: the descriptor's, else white for
// formats without alpha and transparent for the rest.
func background(d transform.Descriptor, format transform.Format) (color.Color, error) {
	if d.Background != "" {
		c, err := effects.ParseHexColor(d.Background)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	if format == transform.FormatJPG {
		return color.White, nil
	}
	return color.Transparent, nil
}
