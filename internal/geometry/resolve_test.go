package geometry

import (
	"image"
	"math"
	"testing"

	"github.com/dunamismax/pixelforge/internal/transform"
)

func TestResolveWorkedExamples(t *testing.T) {
	cases := []struct {
		name       string
		d          transform.Descriptor
		srcW, srcH int
		wantW      int
		wantH      int
	}{
		{"min width only", transform.Descriptor{Width: 800, Fit: transform.FitMin}, 1600, 900, 800, 450},
		{"max square box binds height", transform.Descriptor{Width: 800, Height: 800, Fit: transform.FitMax}, 1600, 900, 1422, 800},
		{"max wide box binds width", transform.Descriptor{Width: 1000, Height: 200, Fit: transform.FitMax}, 600, 900, 600, 900},
		{"clip fits inside", transform.Descriptor{Width: 800, Height: 800, Fit: transform.FitClip}, 1600, 900, 800, 450},
		{"fit never upscales", transform.Descriptor{Width: 4000, Height: 4000, Fit: transform.FitFit}, 1600, 900, 1600, 900},
		{"crop is exact", transform.Descriptor{Width: 300, Height: 300, Fit: transform.FitCrop}, 1600, 900, 300, 300},
		{"stretch is exact", transform.Descriptor{Width: 300, Height: 100, Fit: transform.FitStretch}, 1600, 900, 300, 100},
		{"letterbox is exact", transform.Descriptor{Width: 500, Height: 500, Fit: transform.FitLetterbox}, 1600, 900, 500, 500},
		{"crop height only", transform.Descriptor{Height: 450, Fit: transform.FitCrop}, 1600, 900, 800, 450},
		{"crop width upscales", transform.Descriptor{Width: 3200, Fit: transform.FitCrop}, 1600, 900, 3200, 1800},
		{"max width clamped", transform.Descriptor{Width: 3200, Fit: transform.FitMax}, 1600, 900, 1600, 900},
		{"clip width only clamped", transform.Descriptor{Width: 3200, Fit: transform.FitClip}, 1600, 900, 1600, 900},
		{"fit height only clamped", transform.Descriptor{Height: 1800, Fit: transform.FitFit}, 1600, 900, 1600, 900},
		{"fit width only downscales", transform.Descriptor{Width: 800, Fit: transform.FitFit}, 1600, 900, 800, 450},
		{"croponly clamps", transform.Descriptor{Width: 2000, Height: 300, Fit: transform.FitCropOnly}, 1600, 900, 1600, 300},
		{"no target keeps source", transform.Descriptor{Fit: transform.FitCrop}, 1600, 900, 1600, 900},
		{"unknown source width only", transform.Descriptor{Width: 800, Fit: transform.FitCrop}, 0, 0, 800, 0},
		{"unknown source both", transform.Descriptor{Width: 800, Height: 600, Fit: transform.FitMax}, 0, 0, 800, 600},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := Resolve(tc.d, tc.srcW, tc.srcH)
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("expected %dx%d, got %dx%d", tc.wantW, tc.wantH, w, h)
			}
		})
	}
}

func TestResolveMinMaxNeverExceedsSourceAndKeepsAspect(t *testing.T) {
	sources := [][2]int{{1600, 900}, {900, 1600}, {640, 640}, {123, 457}, {3000, 20}}
	targets := [][2]int{{800, 800}, {100, 400}, {4000, 100}, {50, 50}, {5000, 5000}, {0, 300}, {300, 0}}

	for _, fit := range []transform.FitMode{transform.FitMin, transform.FitMax} {
		for _, src := range sources {
			for _, tgt := range targets {
				d := transform.Descriptor{Width: tgt[0], Height: tgt[1], Fit: fit}
				w, h := Resolve(d, src[0], src[1])

				if w > src[0] || h > src[1] {
					t.Fatalf("%s %v->%v: output %dx%d exceeds source", fit, src, tgt, w, h)
				}

				srcRatio := float64(src[0]) / float64(src[1])
				expectedH := float64(w) / srcRatio
				expectedW := float64(h) * srcRatio
				if math.Abs(expectedH-float64(h)) > 1 && math.Abs(expectedW-float64(w)) > 1 {
					t.Fatalf("%s %v->%v: aspect drift %dx%d", fit, src, tgt, w, h)
				}
			}
		}
	}
}

func TestCoverAndContain(t *testing.T) {
	if w, h := Cover(1600, 900, 300, 300); w != 533 || h != 300 {
		t.Fatalf("cover: expected 533x300, got %dx%d", w, h)
	}
	if w, h := Contain(1600, 900, 500, 500, true); w != 500 || h != 281 {
		t.Fatalf("contain: expected 500x281, got %dx%d", w, h)
	}
	if w, h := Contain(100, 50, 500, 500, false); w != 100 || h != 50 {
		t.Fatalf("contain without upscale: expected 100x50, got %dx%d", w, h)
	}
}

func TestFocalCrop(t *testing.T) {
	center := FocalCrop(533, 300, 300, 300, transform.Center)
	if center != image.Rect(117, 0, 417, 300) {
		t.Fatalf("unexpected centered crop %v", center)
	}

	left := FocalCrop(533, 300, 300, 300, transform.Position{X: 0, Y: 0.5})
	if left.Min.X != 0 {
		t.Fatalf("expected crop clamped to left edge, got %v", left)
	}

	right := FocalCrop(533, 300, 300, 300, transform.Position{X: 1, Y: 0.5})
	if right.Max.X != 533 {
		t.Fatalf("expected crop clamped to right edge, got %v", right)
	}
}
