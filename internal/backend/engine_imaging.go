package backend

import (
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelforge/internal/transform"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type imagingEngine struct{}

func (imagingEngine) Name() string {
	return "imaging"
}

func (imagingEngine) Decode(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return img, nil
}

func (imagingEngine) CanEncode(format transform.Format) bool {
	switch format {
	case transform.FormatJPG, transform.FormatPNG, transform.FormatGIF:
		return true
	default:
		return false
	}
}

// Encode ignores interlace: the standard library encoders only write
// baseline jpeg and non-interlaced png.
func (e imagingEngine) Encode(w io.Writer, img image.Image, format transform.Format, quality int, _ bool) error {
	var err error
	switch format {
	case transform.FormatJPG:
		if quality <= 0 || quality > 100 {
			quality = transform.FormatJPG.DefaultQuality()
		}
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case transform.FormatPNG:
		err = imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	case transform.FormatGIF:
		err = imaging.Encode(w, img, imaging.GIF)
	default:
		return fmt.Errorf("%s export requires the govips build", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}
