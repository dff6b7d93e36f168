package toolchain

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// StepError is returned when an external program fails
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	target := e.Step.Output
	if len(e.Step.Inputs) == 1 {
		target = e.Step.Inputs[0]
	}
	return fmt.Sprintf("%s %s: %v", e.Step.Kind, filepath.Base(target), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func runStep(ctx context.Context, r Runner, step Step) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Run(ctx, step); err != nil {
		return &StepError{Step: step, Err: err}
	}
	return nil
}

// groupByOutput splits steps into chains that share an output file. Chains keep plan
// order, both between each other and inside.
func groupByOutput(steps []Step) [][]Step {
	index := make(map[string]int)
	var groups [][]Step
	for _, step := range steps {
		if i, ok := index[step.Output]; ok {
			groups[i] = append(groups[i], step)
			continue
		}
		index[step.Output] = len(groups)
		groups = append(groups, []Step{step})
	}
	return groups
}

// runJobs runs the steps with at most limit in flight. Steps writing the same output
// never overlap. The first failure cancels the steps that have not started yet.
func runJobs(ctx context.Context, steps []Step, r Runner, limit int) error {
	if len(steps) == 0 {
		return nil
	}

	limit = max(limit, 1)
	var chains [][]Step
	if limit == 1 {
		for _, step := range steps {
			chains = append(chains, []Step{step})
		}
	} else {
		chains = groupByOutput(steps)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)

	for _, chain := range chains {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			for _, step := range chain {
				if err := runStep(egCtx, r, step); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Execute runs the plan: every compile step, then the link, then the conversion to
// Intel-HEX. With jobs <= 1 compile steps run one after another in plan order.
func Execute(ctx context.Context, plan *Plan, r Runner, jobs int) error {
	if err := runJobs(ctx, plan.Compile, r, jobs); err != nil {
		return fmt.Errorf("compilation failed: %w", err)
	}
	if err := runStep(ctx, r, plan.Link); err != nil {
		return fmt.Errorf("linking failed: %w", err)
	}
	if err := runStep(ctx, r, plan.Objcopy); err != nil {
		return fmt.Errorf("hex conversion failed: %w", err)
	}
	return nil
}
