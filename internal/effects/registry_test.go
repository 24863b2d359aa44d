package effects

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/transform"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestResolveEffectAliases(t *testing.T) {
	r := Default()

	for alias, want := range map[string]string{
		"greyscale": "grayscale",
		"GrayScale": "grayscale",
		"invert":    "negative",
		"sepia":     "sepia",
	} {
		got, ok := r.ResolveEffect(alias)
		if !ok || got != want {
			t.Fatalf("resolve %q: expected %q, got %q ok=%v", alias, want, got, ok)
		}
	}

	if _, ok := r.ResolveEffect("sharpenx"); ok {
		t.Fatal("expected sharpenx to be unknown")
	}
}

func TestApplyRunsEffectsInOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	record := func(name string) Effect {
		return Basic(func(img image.Image, _ Params) (image.Image, error) {
			order = append(order, name)
			return img, nil
		})
	}
	r.Register("first", record("first"))
	r.Register("second", record("second"))

	specs := []transform.EffectSpec{{Name: "second"}, {Name: "first"}, {Name: "second"}}
	if _, err := r.Apply(context.Background(), solid(2, 2, color.NRGBA{A: 255}), specs, TierBasic); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if strings.Join(order, ",") != "second,first,second" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestApplyRejectsEffectAboveTier(t *testing.T) {
	r := Default()
	specs := []transform.EffectSpec{{Name: "grayscale"}, {Name: "sepia"}}

	_, err := r.Apply(context.Background(), solid(4, 4, color.NRGBA{R: 200, A: 255}), specs, TierBasic)
	if !errors.Is(err, domain.ErrEffect) {
		t.Fatalf("expected effect error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sepia") {
		t.Fatalf("expected error to name sepia, got %v", err)
	}

	if _, err := r.Apply(context.Background(), solid(4, 4, color.NRGBA{R: 200, A: 255}), specs, TierAdvanced); err != nil {
		t.Fatalf("expected advanced tier to accept sepia, got %v", err)
	}
}

func TestApplyRejectsBadParameters(t *testing.T) {
	r := Default()
	cases := []transform.EffectSpec{
		{Name: "blur", Params: map[string]string{"sigma": "abc"}},
		{Name: "blur", Params: map[string]string{"sigma": "-1"}},
		{Name: "colorize"},
		{Name: "posterize", Params: map[string]string{"levels": "1"}},
		{Name: "opacity", Params: map[string]string{"value": "2"}},
	}
	for _, spec := range cases {
		_, err := r.Apply(context.Background(), solid(2, 2, color.NRGBA{A: 255}), []transform.EffectSpec{spec}, TierAdvanced)
		if !errors.Is(err, domain.ErrEffect) {
			t.Fatalf("%s %v: expected effect error, got %v", spec.Name, spec.Params, err)
		}
	}
}

func TestLaterRegistrationWins(t *testing.T) {
	r := Default()
	r.Register("grayscale", Basic(func(image.Image, Params) (image.Image, error) {
		return solid(1, 1, color.NRGBA{R: 1, A: 255}), nil
	}))

	out, err := r.Apply(context.Background(), solid(3, 3, color.NRGBA{A: 255}), []transform.EffectSpec{{Name: "grayscale"}}, TierBasic)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if out.Bounds().Dx() != 1 {
		t.Fatalf("expected override to run, got bounds %v", out.Bounds())
	}
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Default().Apply(ctx, solid(2, 2, color.NRGBA{A: 255}), []transform.EffectSpec{{Name: "grayscale"}}, TierBasic)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGrayscaleAndNegativePixels(t *testing.T) {
	r := Default()
	src := solid(2, 2, color.NRGBA{R: 255, G: 0, B: 0, A: 255})

	out, err := r.Apply(context.Background(), src, []transform.EffectSpec{{Name: "greyscale"}}, TierBasic)
	if err != nil {
		t.Fatalf("grayscale: %v", err)
	}
	c := color.NRGBAModel.Convert(out.At(0, 0)).(color.NRGBA)
	if c.R != c.G || c.G != c.B {
		t.Fatalf("expected neutral gray, got %+v", c)
	}

	out, err = r.Apply(context.Background(), src, []transform.EffectSpec{{Name: "negative"}}, TierBasic)
	if err != nil {
		t.Fatalf("negative: %v", err)
	}
	c = color.NRGBAModel.Convert(out.At(1, 1)).(color.NRGBA)
	if c.R != 0 || c.G != 255 || c.B != 255 {
		t.Fatalf("expected cyan, got %+v", c)
	}
}

func TestNormalizeStretchesRange(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	src.SetNRGBA(1, 0, color.NRGBA{R: 150, G: 150, B: 150, A: 255})

	out, err := Default().Apply(context.Background(), src, []transform.EffectSpec{{Name: "normalize"}}, TierAdvanced)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	lo := color.NRGBAModel.Convert(out.At(0, 0)).(color.NRGBA)
	hi := color.NRGBAModel.Convert(out.At(1, 0)).(color.NRGBA)
	if lo.R != 0 || hi.R != 255 {
		t.Fatalf("expected 0 and 255 after normalize, got %d and %d", lo.R, hi.R)
	}
}

func TestParseHexColor(t *testing.T) {
	c, err := ParseHexColor("#0f8")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c != (color.NRGBA{R: 0x00, G: 0xff, B: 0x88, A: 0xff}) {
		t.Fatalf("unexpected color %+v", c)
	}
	if _, err := ParseHexColor("zzz"); err == nil {
		t.Fatal("expected error for invalid color")
	}
}

func TestWatermarkStampsText(t *testing.T) {
	src := solid(120, 40, color.NRGBA{A: 255})
	specs := []transform.EffectSpec{{Name: "watermark", Params: map[string]string{"text": "pf", "opacity": "1", "gravity": "center"}}}

	out, err := Default().Apply(context.Background(), src, specs, TierAdvanced)
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	lit := 0
	b := out.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if c := color.NRGBAModel.Convert(out.At(x, y)).(color.NRGBA); c.R > 0 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Fatal("expected watermark pixels to be drawn")
	}
	if c := color.NRGBAModel.Convert(src.At(60, 20)).(color.NRGBA); c.R != 0 {
		t.Fatal("expected source image to be left untouched")
	}

	if _, err := Default().Apply(context.Background(), src, []transform.EffectSpec{{Name: "watermark"}}, TierAdvanced); !errors.Is(err, domain.ErrEffect) {
		t.Fatalf("expected effect error without text, got %v", err)
	}
}

func TestWatermarkPositionClampsToBounds(t *testing.T) {
	x, y := watermarkPosition(image.Rect(0, 0, 20, 40), 100, 13, 11, "southeast")
	if x != 0 || y != 40-watermarkPad {
		t.Fatalf("unexpected position %d,%d", x, y)
	}
	x, y = watermarkPosition(image.Rect(0, 0, 200, 100), 10, 13, 11, "northwest")
	if x != watermarkPad || y != watermarkPad+11 {
		t.Fatalf("unexpected position %d,%d", x, y)
	}
}
