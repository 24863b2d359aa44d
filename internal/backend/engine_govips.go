//go:build govips && cgo

package backend

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// vipsEngine uses libvips for codecs the standard library lacks (webp and
// avif output, heif input) and for EXIF-aware decoding.
type vipsEngine struct{}

func (vipsEngine) Name() string {
	return "govips"
}

func (vipsEngine) Decode(path string) (image.Image, error) {
	ref, err := vips.NewImageFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("auto-rotate source image: %w", err)
	}

	data, _, err := ref.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("export decoded image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("read decoded image: %w", err)
	}
	return img, nil
}

func (vipsEngine) CanEncode(format transform.Format) bool {
	switch format {
	case transform.FormatJPG, transform.FormatPNG, transform.FormatWebP, transform.FormatAVIF, transform.FormatGIF:
		return true
	default:
		return false
	}
}

func (vipsEngine) Encode(w io.Writer, img image.Image, format transform.Format, quality int, interlace bool) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("stage raster for libvips: %w", err)
	}
	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return fmt.Errorf("load raster into libvips: %w", err)
	}
	defer ref.Close()

	if quality <= 0 || quality > 100 {
		quality = format.DefaultQuality()
	}

	var data []byte
	switch format {
	case transform.FormatJPG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		params.Interlace = interlace
		data, _, err = ref.ExportJpeg(params)
	case transform.FormatPNG:
		params := vips.NewPngExportParams()
		params.Interlace = interlace
		data, _, err = ref.ExportPng(params)
	case transform.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err = ref.ExportWebp(params)
	case transform.FormatAVIF:
		params := vips.NewAvifExportParams()
		params.Quality = quality
		data, _, err = ref.ExportAvif(params)
	case transform.FormatGIF:
		data, _, err = ref.ExportGIF(vips.NewGifExportParams())
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", format, err)
	}
	return nil
}
