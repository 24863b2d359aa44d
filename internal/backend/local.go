package backend

import (
	"context"
	"fmt"
	"os"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/effects"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// Local renders artifacts in process: decode, geometry, effects, encode.
type Local struct {
	handle  string
	engine  rasterEngine
	effects *effects.Registry
	tier    effects.Tier
}

func NewLocal(handle string, fx *effects.Registry, tier effects.Tier) *Local {
	if handle == "" {
		handle = "local"
	}
	return &Local{
		handle:  handle,
		engine:  newEngine(),
		effects: fx,
		tier:    tier,
	}
}

func (l *Local) Handle() string {
	return l.handle
}

func (l *Local) Revision() string {
	return fmt.Sprintf("local/%s/%s", l.engine.Name(), l.tier)
}

func (l *Local) Delegated() bool {
	return false
}

// ResolveFormat replaces a source-derived format the engine cannot write
// with jpg. Explicitly requested formats are left alone so the transform
// fails loudly instead.
func (l *Local) ResolveFormat(d transform.Descriptor, format transform.Format) transform.Format {
	if l.engine.CanEncode(format) {
		return format
	}
	switch d.Format {
	case transform.FormatSource, transform.FormatAuto:
		return transform.FormatJPG
	default:
		return format
	}
}

func (l *Local) Transform(ctx context.Context, req Request) (Result, error) {
	if req.Output == "" {
		return Result{}, domain.Errorf(domain.KindTransform, "local", "no output path for %s", req.Source.Identity())
	}
	if !l.engine.CanEncode(req.Format) {
		return Result{}, domain.Errorf(domain.KindTransform, "local", "%s output is not supported by the %s engine", req.Format, l.engine.Name())
	}

	path, err := req.Source.LocalCopy(ctx)
	if err != nil {
		return Result{}, domain.Wrap(domain.KindTransform, "fetch", fmt.Errorf("local copy: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	img, err := l.engine.Decode(path)
	if err != nil {
		return Result{}, domain.Wrap(domain.KindTransform, "decode", err)
	}

	img, err = render(img, req.Descriptor, req.Format)
	if err != nil {
		return Result{}, domain.Wrap(domain.KindTransform, "render", err)
	}

	img, err = l.effects.Apply(ctx, img, req.Descriptor.Effects, l.tier)
	if err != nil {
		return Result{}, domain.Wrap(domain.KindEffect, "effects", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	f, err := os.Create(req.Output)
	if err != nil {
		return Result{}, domain.Wrap(domain.KindTransform, "encode", fmt.Errorf("open output: %w", err))
	}
	quality := req.Descriptor.EffectiveQuality(req.Format)
	if err := l.engine.Encode(f, img, req.Format, quality, req.Descriptor.Interlace); err != nil {
		_ = f.Close()
		return Result{}, domain.Wrap(domain.KindTransform, "encode", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, domain.Wrap(domain.KindTransform, "encode", fmt.Errorf("close output: %w", err))
	}

	info, err := os.Stat(req.Output)
	if err != nil {
		return Result{}, domain.Wrap(domain.KindTransform, "encode", fmt.Errorf("stat output: %w", err))
	}

	b := img.Bounds()
	return Result{
		Path:     req.Output,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Size:     info.Size(),
		Format:   req.Format,
		MimeType: req.Format.MimeType(),
	}, nil
}
