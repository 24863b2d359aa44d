package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

type EffectSpec struct {
	Name   string
	Params map[string]string
}

// Descriptor is the canonical transform request. Values are compared and
// hashed through Canonical, never through their input spelling.
type Descriptor struct {
	Width      int
	Height     int
	Fit        FitMode
	Position   Position
	Format     Format
	Quality    int
	Effects    []EffectSpec
	Interlace  bool
	Background string
	Extra      map[string]string
}

type canonicalEffect struct {
	Name   string            `json:"n"`
	Params map[string]string `json:"p,omitempty"`
}

type canonicalDescriptor struct {
	Width      int               `json:"w"`
	Height     int               `json:"h"`
	Fit        FitMode           `json:"fit"`
	PositionX  float64           `json:"px"`
	PositionY  float64           `json:"py"`
	Format     Format            `json:"fm"`
	Quality    int               `json:"q"`
	Effects    []canonicalEffect `json:"fx,omitempty"`
	Interlace  bool              `json:"il"`
	Background string            `json:"bg,omitempty"`
	Extra      map[string]string `json:"x,omitempty"`
}

func (d Descriptor) Canonical() []byte {
	c := canonicalDescriptor{
		Width:      d.Width,
		Height:     d.Height,
		Fit:        d.Fit,
		PositionX:  d.Position.X,
		PositionY:  d.Position.Y,
		Format:     d.Format,
		Quality:    d.Quality,
		Interlace:  d.Interlace,
		Background: d.Background,
	}
	for _, fx := range d.Effects {
		ce := canonicalEffect{Name: fx.Name}
		if len(fx.Params) > 0 {
			ce.Params = fx.Params
		}
		c.Effects = append(c.Effects, ce)
	}
	if len(d.Extra) > 0 {
		c.Extra = d.Extra
	}
	// Struct fields marshal in declaration order and map keys are sorted.
	out, err := json.Marshal(c)
	if err != nil {
		panic(fmt.Sprintf("marshal canonical descriptor: %v", err))
	}
	return out
}

func (d Descriptor) Hash() string {
	return fmt.Sprintf("%016x", xxhash.Sum64(d.Canonical()))
}

func (d Descriptor) HasSize() bool {
	return d.Width > 0 || d.Height > 0
}

func (d Descriptor) Summary() string {
	var parts []string
	switch {
	case d.Width > 0 && d.Height > 0:
		parts = append(parts, fmt.Sprintf("%dx%d", d.Width, d.Height))
	case d.Width > 0:
		parts = append(parts, fmt.Sprintf("w%d", d.Width))
	case d.Height > 0:
		parts = append(parts, fmt.Sprintf("h%d", d.Height))
	default:
		parts = append(parts, "original")
	}
	parts = append(parts, string(d.Fit))
	if d.Format != FormatSource {
		parts = append(parts, string(d.Format))
	}
	if d.Quality > 0 {
		parts = append(parts, fmt.Sprintf("q%d", d.Quality))
	}
	if len(d.Effects) > 0 {
		names := make([]string, 0, len(d.Effects))
		for _, fx := range d.Effects {
			names = append(names, fx.Name)
		}
		parts = append(parts, "fx="+strings.Join(names, ","))
	}
	if len(d.Extra) > 0 {
		keys := make([]string, 0, len(d.Extra))
		for k := range d.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts = append(parts, "extra="+strings.Join(keys, ","))
	}
	return strings.Join(parts, " ")
}

// EffectiveQuality resolves a zero quality to the default for format.
func (d Descriptor) EffectiveQuality(format Format) int {
	if d.Quality > 0 {
		return d.Quality
	}
	return format.DefaultQuality()
}
