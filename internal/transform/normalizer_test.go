package transform

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type fakeCatalog map[string]string

func (c fakeCatalog) ResolveEffect(name string) (string, bool) {
	canonical, ok := c[name]
	return canonical, ok
}

type fakePresets map[string]map[string]any

func (p fakePresets) Preset(handle string) (map[string]any, bool) {
	params, ok := p[handle]
	return params, ok
}

func testNormalizer() *Normalizer {
	effects := fakeCatalog{
		"grayscale": "grayscale",
		"greyscale": "grayscale",
		"sharpen":   "sharpen",
		"blur":      "blur",
	}
	presets := fakePresets{
		"thumb": {"width": 200, "height": 200, "mode": "crop", "effects": []any{"sharpen"}},
	}
	return NewNormalizer(effects, presets, DefaultDefaults())
}

func TestNormalizeAliasesProduceSameCanonicalForm(t *testing.T) {
	n := testNormalizer()

	a, err := n.Normalize(Params(map[string]any{
		"w":       800,
		"h":       600,
		"mode":    "crop",
		"fm":      "jpeg",
		"effects": []any{"greyscale"},
	}))
	if err != nil {
		t.Fatalf("normalize aliases: %v", err)
	}
	b, err := n.Normalize(Params(map[string]any{
		"effects": []any{map[string]any{"grayscale": true}},
		"format":  "jpg",
		"fit":     "crop",
		"height":  600.0,
		"width":   "800",
		"quality": 80,
	}))
	if err != nil {
		t.Fatalf("normalize canonical names: %v", err)
	}

	if !bytes.Equal(a.Canonical(), b.Canonical()) {
		t.Fatalf("expected identical canonical forms\n a=%s\n b=%s", a.Canonical(), b.Canonical())
	}
	if a.Hash() != b.Hash() {
		t.Fatalf("expected identical hashes, got %s and %s", a.Hash(), b.Hash())
	}
}

func TestNormalizeAppliesFormatDefaultQuality(t *testing.T) {
	n := testNormalizer()

	cases := []struct {
		format string
		want   int
	}{
		{"jpg", 80},
		{"webp", 80},
		{"avif", 60},
		{"png", 0},
		{"", 0},
	}
	for _, tc := range cases {
		d, err := n.Normalize(Params(map[string]any{"format": tc.format}))
		if err != nil {
			t.Fatalf("format %q: %v", tc.format, err)
		}
		if d.Quality != tc.want {
			t.Fatalf("format %q: expected quality %d, got %d", tc.format, tc.want, d.Quality)
		}
	}
}

func TestNormalizeUnknownEffectIsValidationError(t *testing.T) {
	n := testNormalizer()

	d, err := n.Normalize(Params(map[string]any{
		"width":   100,
		"effects": []any{"grayscale", "sharpenx"},
	}))
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if !strings.Contains(err.Error(), "sharpenx") {
		t.Fatalf("expected error to name sharpenx, got %v", err)
	}
	if d.Width != 0 || len(d.Effects) != 0 {
		t.Fatalf("expected zero descriptor on error, got %+v", d)
	}
}

func TestNormalizeUnknownFitMode(t *testing.T) {
	_, err := testNormalizer().Normalize(Params(map[string]any{"mode": "squash"}))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNormalizePresetWithOverrides(t *testing.T) {
	d, err := testNormalizer().Normalize(Preset("thumb", map[string]any{"w": 300, "format": "webp"}))
	if err != nil {
		t.Fatalf("normalize preset: %v", err)
	}
	if d.Width != 300 || d.Height != 200 {
		t.Fatalf("expected 300x200, got %dx%d", d.Width, d.Height)
	}
	if d.Format != FormatWebP || d.Quality != 80 {
		t.Fatalf("expected webp q80, got %s q%d", d.Format, d.Quality)
	}
	if len(d.Effects) != 1 || d.Effects[0].Name != "sharpen" {
		t.Fatalf("expected preset effects to survive, got %+v", d.Effects)
	}

	if _, err := testNormalizer().Normalize(Preset("missing", nil)); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown preset, got %v", err)
	}
}

func TestNormalizeShorthand(t *testing.T) {
	n := testNormalizer()

	cases := []struct {
		in   string
		w, h int
	}{
		{"800x600", 800, 600},
		{"800", 800, 0},
		{"x600", 0, 600},
		{"800x", 800, 0},
	}
	for _, tc := range cases {
		d, err := n.Normalize(Shorthand(tc.in))
		if err != nil {
			t.Fatalf("shorthand %q: %v", tc.in, err)
		}
		if d.Width != tc.w || d.Height != tc.h {
			t.Fatalf("shorthand %q: expected %dx%d, got %dx%d", tc.in, tc.w, tc.h, d.Width, d.Height)
		}
	}

	for _, bad := range []string{"", "x", "axb", "-5x10"} {
		if _, err := n.Normalize(Shorthand(bad)); err == nil {
			t.Fatalf("expected error for shorthand %q", bad)
		}
	}
}

func TestNormalizeRatioDerivesMissingAxis(t *testing.T) {
	n := testNormalizer()

	d, err := n.Normalize(Params(map[string]any{"width": 1600, "ratio": "16:9"}))
	if err != nil {
		t.Fatalf("normalize ratio: %v", err)
	}
	if d.Height != 900 {
		t.Fatalf("expected height 900, got %d", d.Height)
	}

	d, err = n.Normalize(Params(map[string]any{"height": 300, "ratio": 2.0}))
	if err != nil {
		t.Fatalf("normalize ratio: %v", err)
	}
	if d.Width != 600 {
		t.Fatalf("expected width 600, got %d", d.Width)
	}
}

func TestNormalizeRejectsUnusableRatios(t *testing.T) {
	n := testNormalizer()
	cases := []map[string]any{
		{"width": 800, "ratio": "nan"},
		{"width": 800, "ratio": "inf"},
		{"width": 800, "ratio": "nan:1"},
		{"width": 800, "ratio": "1e-300"},
		{"height": 800, "ratio": 1e300},
		{"width": 1e300},
	}
	for _, params := range cases {
		d, err := n.Normalize(Params(params))
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%v: expected validation error, got %v (w=%d h=%d)", params, err, d.Width, d.Height)
		}
	}
}

func TestNormalizeEffectOrderAndParams(t *testing.T) {
	d, err := testNormalizer().Normalize(Params(map[string]any{
		"effects": []any{
			map[string]any{"name": "blur", "params": map[string]any{"sigma": 2.5}},
			map[string]any{"sharpen": 1},
			"grayscale",
		},
	}))
	if err != nil {
		t.Fatalf("normalize effects: %v", err)
	}

	want := []string{"blur", "sharpen", "grayscale"}
	if len(d.Effects) != len(want) {
		t.Fatalf("expected %d effects, got %d", len(want), len(d.Effects))
	}
	for i, name := range want {
		if d.Effects[i].Name != name {
			t.Fatalf("effect %d: expected %s, got %s", i, name, d.Effects[i].Name)
		}
	}
	if d.Effects[0].Params["sigma"] != "2.5" {
		t.Fatalf("expected sigma=2.5, got %q", d.Effects[0].Params["sigma"])
	}
	if d.Effects[1].Params["value"] != "1" {
		t.Fatalf("expected sharpen value=1, got %q", d.Effects[1].Params["value"])
	}
}

func TestNormalizeExtraParamsPassThrough(t *testing.T) {
	d, err := testNormalizer().Normalize(Params(map[string]any{
		"width": 100,
		"dpr":   2,
		"txt":   "hello",
	}))
	if err != nil {
		t.Fatalf("normalize extras: %v", err)
	}
	if d.Extra["dpr"] != "2" || d.Extra["txt"] != "hello" {
		t.Fatalf("expected extras to pass through, got %+v", d.Extra)
	}

	if _, err := testNormalizer().Normalize(Params(map[string]any{"nested": map[string]any{"a": 1}})); err == nil {
		t.Fatal("expected error for non-scalar extra parameter")
	}
}

func TestNormalizeConflictingAliases(t *testing.T) {
	_, err := testNormalizer().Normalize(Params(map[string]any{"w": 100, "width": 200}))
	if err == nil {
		t.Fatal("expected error for conflicting width aliases")
	}

	if _, err := testNormalizer().Normalize(Params(map[string]any{"w": 100, "width": 100})); err != nil {
		t.Fatalf("expected agreeing aliases to be accepted, got %v", err)
	}
}

func TestNormalizePositionAndBackground(t *testing.T) {
	d, err := testNormalizer().Normalize(Params(map[string]any{
		"position": "25% 75%",
		"bg":       "#FFF",
	}))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if d.Position.X != 0.25 || d.Position.Y != 0.75 {
		t.Fatalf("expected 0.25,0.75, got %s", d.Position)
	}
	if d.Background != "#ffffff" {
		t.Fatalf("expected #ffffff, got %s", d.Background)
	}

	if _, err := testNormalizer().Normalize(Params(map[string]any{"gravity": "sideways"})); err == nil {
		t.Fatal("expected unknown gravity to fail")
	}

	for _, pos := range []any{"nan nan", "0.5 nan", []any{"nan", 0.5}, map[string]any{"x": 0.5, "y": "NaN"}} {
		_, err := testNormalizer().Normalize(Params(map[string]any{"width": 100, "position": pos}))
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("position %v: expected validation error, got %v", pos, err)
		}
	}
}

func TestOutputFormat(t *testing.T) {
	cases := []struct {
		format Format
		ext    string
		want   Format
	}{
		{FormatPNG, "jpg", FormatPNG},
		{FormatSource, "JPEG", FormatJPG},
		{FormatSource, ".png", FormatPNG},
		{FormatSource, "tiff", FormatJPG},
		{FormatAuto, "gif", FormatWebP},
		{FormatAuto, "png", FormatPNG},
	}
	for _, tc := range cases {
		got := OutputFormat(Descriptor{Format: tc.format}, strings.ToLower(tc.ext))
		if got != tc.want {
			t.Fatalf("format=%q ext=%q: expected %s, got %s", tc.format, tc.ext, tc.want, got)
		}
	}
}
