package optimizer

import (
	"context"
	"errors"
	"log"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type Step struct {
	Handle    string
	Optimizer Optimizer
	Settings  Settings
}

// Chain runs optimizers over a finished artifact in order. Outside strict
// mode a failing or missing optimizer is logged and skipped.
type Chain struct {
	steps  []Step
	strict bool
	logger *log.Logger
}

func NewChain(logger *log.Logger, strict bool, steps ...Step) *Chain {
	return &Chain{steps: steps, strict: strict, logger: logger}
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.steps)
}

// Run optimizes file for format and reports how many optimizers failed.
func (c *Chain) Run(ctx context.Context, file, format string) (int, error) {
	if c == nil {
		return 0, nil
	}

	failed := 0
	for _, step := range c.steps {
		if !step.Settings.Applies(format) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		err := step.Optimizer.Optimize(ctx, file, step.Settings)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return failed, err
		}

		failed++
		classified := domain.Wrap(domain.KindOptimizer, "optimize", err).WithHandle(step.Handle)
		if c.strict {
			return failed, classified
		}
		if errors.Is(err, ErrExecutableNotFound) {
			c.logger.Printf("optimizer missing handle=%s path=%s", step.Handle, step.Settings.Path)
			continue
		}
		c.logger.Printf("optimizer failed handle=%s file=%s err=%v", step.Handle, file, err)
	}
	return failed, nil
}
