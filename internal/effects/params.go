package effects

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

type Params map[string]string

func (p Params) lookup(keys []string) (string, string, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && strings.TrimSpace(v) != "" && v != "true" {
			return k, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

func (p Params) Float(def float64, keys ...string) (float64, error) {
	k, v, ok := p.lookup(keys)
	if !ok {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s must be a number, got %q", k, v)
	}
	return f, nil
}

func (p Params) Int(def int, keys ...string) (int, error) {
	f, err := p.Float(float64(def), keys...)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func (p Params) Color(keys ...string) (color.NRGBA, bool, error) {
	k, v, ok := p.lookup(keys)
	if !ok {
		return color.NRGBA{}, false, nil
	}
	c, err := ParseHexColor(v)
	if err != nil {
		return color.NRGBA{}, false, fmt.Errorf("parameter %s: %w", k, err)
	}
	return c, true, nil
}

func ParseHexColor(in string) (color.NRGBA, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(in)), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", in)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", in)
	}
	return color.NRGBA{R: uint8(n >> 24), G: uint8(n >> 16), B: uint8(n >> 8), A: uint8(n)}, nil
}
