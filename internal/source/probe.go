package source

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type Info struct {
	Width       int
	Height      int
	Extension   string
	MimeType    string
	Orientation int
}

// Probe reads the header of an image file. Width and Height are reported
// as displayed, so EXIF orientations 5 to 8 swap the stored dimensions.
func Probe(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("read image %s: %w", path, err)
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return Info{}, fmt.Errorf("unrecognized image type: %s", path)
	}
	if !filetype.IsImage(data) {
		return Info{}, fmt.Errorf("%s is %s, not an image", path, kind.MIME.Value)
	}

	info := Info{Extension: kind.Extension, MimeType: kind.MIME.Value, Orientation: 1}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Formats without a Go decoder (heif, avif) still probe by type.
		return info, nil
	}
	info.Width, info.Height = cfg.Width, cfg.Height

	if o := orientation(data); o >= 5 && o <= 8 {
		info.Orientation = o
		info.Width, info.Height = info.Height, info.Width
	} else if o > 0 {
		info.Orientation = o
	}
	return info, nil
}

func orientation(data []byte) int {
	rawExif, err := exif.SearchAndExtractExif(data)
	if err != nil {
		return 0
	}

	im := exifcommon.NewIfdMapping()
	ti := exif.NewTagIndex()
	if err := exifcommon.LoadStandardIfds(im); err != nil {
		return 0
	}

	_, index, err := exif.Collect(im, ti, rawExif)
	if err != nil {
		return 0
	}

	tag, err := index.RootIfd.FindTagWithName("Orientation")
	if err != nil || len(tag) == 0 {
		return 0
	}
	val, err := tag[0].Value()
	if err != nil {
		return 0
	}
	if shorts, ok := val.([]uint16); ok && len(shorts) > 0 {
		return int(shorts[0])
	}
	return 0
}
