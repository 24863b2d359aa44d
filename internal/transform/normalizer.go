package transform

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type EffectCatalog interface {
	ResolveEffect(name string) (string, bool)
}

type PresetSource interface {
	Preset(handle string) (map[string]any, bool)
}

type Defaults struct {
	Fit       FitMode
	Position  Position
	Format    Format
	Interlace bool
}

func DefaultDefaults() Defaults {
	return Defaults{Fit: FitCrop, Position: Center}
}

type inputKind int

const (
	inputParams inputKind = iota
	inputPreset
	inputShorthand
)

// Input is the raw transform request: a parameter mapping, a named preset
// with optional overrides, or a size shorthand such as "800x600".
type Input struct {
	kind      inputKind
	params    map[string]any
	preset    string
	shorthand string
}

func Params(params map[string]any) Input {
	return Input{kind: inputParams, params: params}
}

func Preset(handle string, overrides map[string]any) Input {
	return Input{kind: inputPreset, preset: handle, params: overrides}
}

func Shorthand(size string) Input {
	return Input{kind: inputShorthand, shorthand: size}
}

func Size(width, height int) Input {
	return Params(map[string]any{"width": width, "height": height})
}

func (in Input) String() string {
	switch in.kind {
	case inputPreset:
		return "preset:" + in.preset
	case inputShorthand:
		return "size:" + in.shorthand
	default:
		return fmt.Sprintf("params:%d", len(in.params))
	}
}

type Normalizer struct {
	effects  EffectCatalog
	presets  PresetSource
	defaults Defaults
}

func NewNormalizer(effects EffectCatalog, presets PresetSource, defaults Defaults) *Normalizer {
	if defaults.Fit == "" {
		defaults.Fit = FitCrop
	}
	return &Normalizer{effects: effects, presets: presets, defaults: defaults}
}

func (n *Normalizer) Normalize(in Input) (Descriptor, error) {
	raw, err := n.expand(in)
	if err != nil {
		return Descriptor{}, invalid(in, err)
	}
	d, err := n.build(raw)
	if err != nil {
		return Descriptor{}, invalid(in, err)
	}
	return d, nil
}

func invalid(in Input, err error) error {
	e := domain.Wrap(domain.KindValidation, "normalize", err)
	e.Descriptor = in.String()
	return e
}

func (n *Normalizer) expand(in Input) (map[string]any, error) {
	switch in.kind {
	case inputShorthand:
		return parseShorthand(in.shorthand)
	case inputPreset:
		handle := strings.TrimSpace(in.preset)
		if handle == "" {
			return nil, errors.New("preset handle is required")
		}
		if n.presets == nil {
			return nil, fmt.Errorf("unknown transform preset %q", handle)
		}
		base, ok := n.presets.Preset(handle)
		if !ok {
			return nil, fmt.Errorf("unknown transform preset %q", handle)
		}
		merged, err := canonicalKeys(base)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", handle, err)
		}
		overrides, err := canonicalKeys(in.params)
		if err != nil {
			return nil, fmt.Errorf("overrides: %w", err)
		}
		for k, v := range overrides {
			merged[k] = v
		}
		return merged, nil
	default:
		return canonicalKeys(in.params)
	}
}

var keyAliases = map[string]string{
	"w":           "width",
	"width":       "width",
	"h":           "height",
	"height":      "height",
	"mode":        "fit",
	"fit":         "fit",
	"position":    "position",
	"pos":         "position",
	"gravity":     "position",
	"fm":          "format",
	"format":      "format",
	"q":           "quality",
	"quality":     "quality",
	"bg":          "background",
	"bgcolor":     "background",
	"background":  "background",
	"effects":     "effects",
	"filters":     "effects",
	"interlace":   "interlace",
	"progressive": "interlace",
	"ratio":       "ratio",
	"ar":          "ratio",
}

func canonicalKeys(in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	seen := make(map[string]string, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name, ok := keyAliases[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			name = "extra:" + k
		}
		if prev, dup := seen[name]; dup && fmt.Sprint(out[name]) != fmt.Sprint(in[k]) {
			return nil, fmt.Errorf("conflicting values for %s via %q and %q", strings.TrimPrefix(name, "extra:"), prev, k)
		}
		seen[name] = k
		out[name] = in[k]
	}
	return out, nil
}

func parseShorthand(in string) (map[string]any, error) {
	s := strings.ToLower(strings.TrimSpace(in))
	if s == "" {
		return nil, errors.New("size shorthand is empty")
	}
	w, h, found := strings.Cut(s, "x")
	out := map[string]any{}
	if w != "" {
		n, err := strconv.Atoi(w)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid size shorthand %q", in)
		}
		out["width"] = n
	}
	if found && h != "" {
		n, err := strconv.Atoi(h)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid size shorthand %q", in)
		}
		out["height"] = n
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("invalid size shorthand %q", in)
	}
	return out, nil
}

func (n *Normalizer) build(raw map[string]any) (Descriptor, error) {
	d := Descriptor{
		Fit:       n.defaults.Fit,
		Position:  n.defaults.Position,
		Format:    n.defaults.Format,
		Interlace: n.defaults.Interlace,
	}

	var err error
	if v, ok := raw["width"]; ok {
		if d.Width, err = toDimension(v); err != nil {
			return Descriptor{}, fmt.Errorf("width: %w", err)
		}
	}
	if v, ok := raw["height"]; ok {
		if d.Height, err = toDimension(v); err != nil {
			return Descriptor{}, fmt.Errorf("height: %w", err)
		}
	}
	if v, ok := raw["ratio"]; ok {
		ratio, err := toRatio(v)
		if err != nil {
			return Descriptor{}, fmt.Errorf("ratio: %w", err)
		}
		switch {
		case d.Width > 0 && d.Height == 0:
			if d.Height, err = derivedDimension(float64(d.Width) / ratio); err != nil {
				return Descriptor{}, fmt.Errorf("ratio: height %w", err)
			}
		case d.Height > 0 && d.Width == 0:
			if d.Width, err = derivedDimension(float64(d.Height) * ratio); err != nil {
				return Descriptor{}, fmt.Errorf("ratio: width %w", err)
			}
		}
	}
	if v, ok := raw["fit"]; ok {
		s, ok := v.(string)
		if !ok {
			return Descriptor{}, fmt.Errorf("fit must be a string, got %T", v)
		}
		if d.Fit, err = ParseFitMode(s); err != nil {
			return Descriptor{}, err
		}
	}
	if v, ok := raw["position"]; ok {
		if d.Position, err = ParsePosition(v); err != nil {
			return Descriptor{}, err
		}
	}
	if v, ok := raw["format"]; ok {
		s, ok := v.(string)
		if !ok {
			return Descriptor{}, fmt.Errorf("format must be a string, got %T", v)
		}
		if d.Format, err = ParseFormat(s); err != nil {
			return Descriptor{}, err
		}
	}
	if v, ok := raw["quality"]; ok {
		q, err := toInt(v)
		if err != nil || q < 0 || q > 100 {
			return Descriptor{}, fmt.Errorf("quality must be between 0 and 100, got %v", v)
		}
		d.Quality = q
	}
	if d.Quality == 0 && d.Format.concrete() {
		d.Quality = d.Format.DefaultQuality()
	}
	if v, ok := raw["interlace"]; ok {
		if d.Interlace, err = toInterlace(v); err != nil {
			return Descriptor{}, err
		}
	}
	if v, ok := raw["background"]; ok {
		if d.Background, err = parseColor(v); err != nil {
			return Descriptor{}, err
		}
	}
	if v, ok := raw["effects"]; ok {
		if d.Effects, err = n.parseEffects(v); err != nil {
			return Descriptor{}, err
		}
	}

	for k, v := range raw {
		name, ok := strings.CutPrefix(k, "extra:")
		if !ok {
			continue
		}
		s, err := toScalarString(v)
		if err != nil {
			return Descriptor{}, fmt.Errorf("parameter %q: %w", name, err)
		}
		if d.Extra == nil {
			d.Extra = make(map[string]string)
		}
		d.Extra[name] = s
	}
	return d, nil
}

func (n *Normalizer) parseEffects(v any) ([]EffectSpec, error) {
	var out []EffectSpec
	add := func(name string, value any) error {
		spec, keep, err := n.effect(name, value)
		if err != nil {
			return err
		}
		if keep {
			out = append(out, spec)
		}
		return nil
	}

	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		for _, name := range strings.Split(t, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			if err := add(name, nil); err != nil {
				return nil, err
			}
		}
	case []string:
		for _, name := range t {
			if err := add(name, nil); err != nil {
				return nil, err
			}
		}
	case []EffectSpec:
		for _, spec := range t {
			params := make(map[string]any, len(spec.Params))
			for k, p := range spec.Params {
				params[k] = p
			}
			if err := add(spec.Name, params); err != nil {
				return nil, err
			}
		}
	case []any:
		for i, item := range t {
			switch it := item.(type) {
			case string:
				if err := add(it, nil); err != nil {
					return nil, err
				}
			case map[string]any:
				if name, ok := it["name"].(string); ok {
					if err := add(name, it["params"]); err != nil {
						return nil, err
					}
					continue
				}
				if len(it) != 1 {
					return nil, fmt.Errorf("effects[%d] must name exactly one effect", i)
				}
				for name, value := range it {
					if err := add(name, value); err != nil {
						return nil, err
					}
				}
			default:
				return nil, fmt.Errorf("effects[%d] has unsupported type %T", i, item)
			}
		}
	case map[string]any:
		names := make([]string, 0, len(t))
		for name := range t {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := add(name, t[name]); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("effects has unsupported type %T", v)
	}
	return out, nil
}

func (n *Normalizer) effect(name string, value any) (EffectSpec, bool, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if n.effects == nil {
		return EffectSpec{}, false, fmt.Errorf("unknown effect %q", name)
	}
	canonical, ok := n.effects.ResolveEffect(key)
	if !ok {
		return EffectSpec{}, false, fmt.Errorf("unknown effect %q", name)
	}

	spec := EffectSpec{Name: canonical}
	switch v := value.(type) {
	case nil:
	case bool:
		if !v {
			return EffectSpec{}, false, nil
		}
	case map[string]any:
		if len(v) > 0 {
			spec.Params = make(map[string]string, len(v))
		}
		for k, p := range v {
			s, err := toScalarString(p)
			if err != nil {
				return EffectSpec{}, false, fmt.Errorf("effect %q parameter %q: %w", canonical, k, err)
			}
			spec.Params[strings.ToLower(k)] = s
		}
	default:
		s, err := toScalarString(v)
		if err != nil {
			return EffectSpec{}, false, fmt.Errorf("effect %q: %w", canonical, err)
		}
		spec.Params = map[string]string{"value": s}
	}
	return spec, true, nil
}

// maxDimension bounds every width and height, given or derived.
const maxDimension = math.MaxInt32

func toDimension(v any) (int, error) {
	n, err := toInt(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", n)
	}
	if n > maxDimension {
		return 0, fmt.Errorf("must not exceed %d, got %d", maxDimension, n)
	}
	return n, nil
}

func derivedDimension(v float64) (int, error) {
	r := math.Round(v)
	if math.IsNaN(r) || r < 0 || r > maxDimension {
		return 0, fmt.Errorf("out of range: %v", v)
	}
	return int(r), nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > maxDimension {
			return 0, fmt.Errorf("expected whole number, got %v", t)
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", t)
		}
		return n, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toRatio(v any) (float64, error) {
	if s, ok := v.(string); ok {
		for _, sep := range []string{":", "/"} {
			if a, b, found := strings.Cut(s, sep); found {
				num, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
				den, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
				if err1 != nil || err2 != nil || !(num > 0) || !(den > 0) || math.IsInf(num, 0) || math.IsInf(den, 0) {
					return 0, fmt.Errorf("invalid ratio %q", s)
				}
				return num / den, nil
			}
		}
	}
	r, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	if !(r > 0) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("must be a positive finite number, got %v", v)
	}
	return r, nil
}

func toInterlace(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "line", "plane", "partition":
			return true, nil
		case "none", "":
			return false, nil
		}
		b, err := strconv.ParseBool(t)
		if err != nil {
			return false, fmt.Errorf("invalid interlace value %q", t)
		}
		return b, nil
	default:
		n, err := toInt(v)
		if err != nil {
			return false, fmt.Errorf("invalid interlace value %v", v)
		}
		return n != 0, nil
	}
}

func parseColor(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("background must be a hex color, got %T", v)
	}
	s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if s == "" || s == "transparent" {
		return "", nil
	}
	if len(s) == 3 || len(s) == 4 {
		var b strings.Builder
		for _, r := range s {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		s = b.String()
	}
	if len(s) != 6 && len(s) != 8 {
		return "", fmt.Errorf("invalid background color %q", v)
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return "", fmt.Errorf("invalid background color %q", v)
	}
	return "#" + s, nil
}

func toScalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, err := toScalarString(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("must be a scalar value, got %T", v)
	}
}
