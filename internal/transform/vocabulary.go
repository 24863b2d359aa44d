package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type FitMode string

const (
	FitCrop      FitMode = "crop"
	FitFit       FitMode = "fit"
	FitLetterbox FitMode = "letterbox"
	FitCropOnly  FitMode = "croponly"
	FitClamp     FitMode = "clamp"
	FitClip      FitMode = "clip"
	FitFill      FitMode = "fill"
	FitFillMax   FitMode = "fillmax"
	FitMin       FitMode = "min"
	FitMax       FitMode = "max"
	FitScale     FitMode = "scale"
	FitStretch   FitMode = "stretch"
)

var fitModes = map[string]FitMode{
	"crop":      FitCrop,
	"fit":       FitFit,
	"letterbox": FitLetterbox,
	"croponly":  FitCropOnly,
	"clamp":     FitClamp,
	"clip":      FitClip,
	"fill":      FitFill,
	"fillmax":   FitFillMax,
	"min":       FitMin,
	"max":       FitMax,
	"scale":     FitScale,
	"stretch":   FitStretch,

	"cover":   FitCrop,
	"contain": FitFit,
	"inside":  FitMax,
	"pad":     FitLetterbox,
}

func ParseFitMode(in string) (FitMode, error) {
	mode, ok := fitModes[strings.ToLower(strings.TrimSpace(in))]
	if !ok {
		return "", fmt.Errorf("unknown fit mode %q", in)
	}
	return mode, nil
}

type Format string

const (
	FormatSource Format = ""
	FormatAuto   Format = "auto"
	FormatJPG    Format = "jpg"
	FormatPNG    Format = "png"
	FormatWebP   Format = "webp"
	FormatAVIF   Format = "avif"
	FormatGIF    Format = "gif"
)

func ParseFormat(in string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "":
		return FormatSource, nil
	case "auto":
		return FormatAuto, nil
	case "jpg", "jpeg", "pjpg":
		return FormatJPG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	case "avif":
		return FormatAVIF, nil
	case "gif":
		return FormatGIF, nil
	default:
		return "", fmt.Errorf("unsupported format %q", in)
	}
}

func (f Format) Extension() string {
	if f == FormatSource || f == FormatAuto {
		return ""
	}
	return string(f)
}

func (f Format) MimeType() string {
	switch f {
	case FormatJPG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	case FormatGIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// DefaultQuality is zero for formats whose encoders take no quality setting.
func (f Format) DefaultQuality() int {
	switch f {
	case FormatJPG, FormatWebP:
		return 80
	case FormatAVIF:
		return 60
	default:
		return 0
	}
}

func (f Format) concrete() bool {
	return f != FormatSource && f != FormatAuto
}

// OutputFormat is the encoded format for d when applied to a source with the
// given file extension. Sources that are not web-safe fall back to jpg.
func OutputFormat(d Descriptor, sourceExt string) Format {
	if d.Format.concrete() {
		return d.Format
	}
	src, err := ParseFormat(strings.TrimPrefix(sourceExt, "."))
	if err != nil || !src.concrete() {
		return FormatJPG
	}
	if d.Format == FormatAuto && src == FormatGIF {
		return FormatWebP
	}
	return src
}

// Position is a focal point; X and Y run from 0 (left, top) to 1.
type Position struct {
	X float64
	Y float64
}

var Center = Position{X: 0.5, Y: 0.5}

var gravities = map[string]Position{
	"center":        Center,
	"centre":        Center,
	"center-center": Center,
	"top-left":      {0, 0},
	"top":           {0.5, 0},
	"top-center":    {0.5, 0},
	"top-right":     {1, 0},
	"left":          {0, 0.5},
	"center-left":   {0, 0.5},
	"right":         {1, 0.5},
	"center-right":  {1, 0.5},
	"bottom-left":   {0, 1},
	"bottom":        {0.5, 1},
	"bottom-center": {0.5, 1},
	"bottom-right":  {1, 1},
	"northwest":     {0, 0},
	"north":         {0.5, 0},
	"northeast":     {1, 0},
	"west":          {0, 0.5},
	"east":          {1, 0.5},
	"southwest":     {0, 1},
	"south":         {0.5, 1},
	"southeast":     {1, 1},
}

// ParsePosition accepts a named gravity, "x% y%", "x,y" fractions, a
// two-element list or an {x, y} mapping.
func ParsePosition(in any) (Position, error) {
	switch v := in.(type) {
	case Position:
		return v.validate()
	case string:
		return parsePositionString(v)
	case []any:
		if len(v) != 2 {
			return Position{}, fmt.Errorf("position list needs two values, got %d", len(v))
		}
		x, err := toFloat(v[0])
		if err != nil {
			return Position{}, fmt.Errorf("position x: %w", err)
		}
		y, err := toFloat(v[1])
		if err != nil {
			return Position{}, fmt.Errorf("position y: %w", err)
		}
		return Position{X: x, Y: y}.validate()
	case map[string]any:
		x, err := toFloat(v["x"])
		if err != nil {
			return Position{}, fmt.Errorf("position x: %w", err)
		}
		y, err := toFloat(v["y"])
		if err != nil {
			return Position{}, fmt.Errorf("position y: %w", err)
		}
		return Position{X: x, Y: y}.validate()
	default:
		return Position{}, fmt.Errorf("unsupported position value %v", in)
	}
}

func parsePositionString(in string) (Position, error) {
	s := strings.ToLower(strings.TrimSpace(in))
	s = strings.ReplaceAll(s, "_", "-")
	if p, ok := gravities[s]; ok {
		return p, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) != 2 {
		return Position{}, fmt.Errorf("unknown position %q", in)
	}
	coords := make([]float64, 2)
	for i, f := range fields {
		percent := strings.HasSuffix(f, "%")
		n, err := strconv.ParseFloat(strings.TrimSuffix(f, "%"), 64)
		if err != nil {
			return Position{}, fmt.Errorf("unknown position %q", in)
		}
		if percent {
			n /= 100
		}
		coords[i] = n
	}
	return Position{X: coords[0], Y: coords[1]}.validate()
}

func (p Position) validate() (Position, error) {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return Position{}, fmt.Errorf("position must be numeric")
	}
	if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
		return Position{}, fmt.Errorf("position %.3f,%.3f outside 0..1", p.X, p.Y)
	}
	return p, nil
}

func (p Position) String() string {
	return strconv.FormatFloat(p.X, 'f', -1, 64) + "," + strconv.FormatFloat(p.Y, 'f', -1, 64)
}
