package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// Event describes one transform as seen by hooks. Path is the staged
// artifact during BeforePublish and the final artifact afterwards.
type Event struct {
	Source     domain.Source
	Descriptor transform.Descriptor
	Backend    string
	Path       string
	Image      domain.TransformedImage
}

// BeforePublishHook runs after optimization and before the artifact is
// published or committed. Returning an error aborts the transform.
type BeforePublishHook interface {
	BeforePublish(ctx context.Context, ev Event) error
}

type AfterTransformHook interface {
	AfterTransform(ctx context.Context, ev Event)
}

type TransformFailedHook interface {
	TransformFailed(ctx context.Context, ev Event, err error)
}

// AddHook registers h for every hook interface it implements. Hooks run
// synchronously in registration order.
func (o *Orchestrator) AddHook(h any) error {
	switch h.(type) {
	case BeforePublishHook, AfterTransformHook, TransformFailedHook:
	default:
		return fmt.Errorf("hook %T implements no hook interface", h)
	}

	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.hooks = append(o.hooks, h)
	return nil
}

func (o *Orchestrator) snapshotHooks() []any {
	o.hooksMu.RLock()
	defer o.hooksMu.RUnlock()
	return append([]any(nil), o.hooks...)
}

func (o *Orchestrator) beforePublish(ctx context.Context, ev Event) error {
	for _, h := range o.snapshotHooks() {
		if bp, ok := h.(BeforePublishHook); ok {
			if err := bp.BeforePublish(ctx, ev); err != nil {
				return fmt.Errorf("before publish hook %T: %w", h, err)
			}
		}
	}
	return nil
}

func (o *Orchestrator) afterTransform(ctx context.Context, ev Event) {
	for _, h := range o.snapshotHooks() {
		if at, ok := h.(AfterTransformHook); ok {
			at.AfterTransform(ctx, ev)
		}
	}
}

func (o *Orchestrator) transformFailed(ctx context.Context, ev Event, err error) {
	for _, h := range o.snapshotHooks() {
		if tf, ok := h.(TransformFailedHook); ok {
			tf.TransformFailed(ctx, ev, err)
		}
	}
}
