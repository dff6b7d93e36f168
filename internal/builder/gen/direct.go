package gen

import (
	"context"
	"errors"
	"os"

	"github.com/qobs-build/mcubuild/internal/msg"
	"github.com/qobs-build/mcubuild/internal/toolchain"
)

var errNoPlan = errors.New("direct builder invoked before Generate")

// DirectBuilder runs every step of the plan through a Runner
type DirectBuilder struct {
	runner toolchain.Runner
	jobs   int
	quiet  bool
	plan   *toolchain.Plan
}

func NewDirectBuilder(runner toolchain.Runner, jobs int, quiet bool) *DirectBuilder {
	if runner == nil {
		r := toolchain.NewExecRunner()
		r.Quiet = quiet
		runner = r
	}
	return &DirectBuilder{runner: runner, jobs: jobs, quiet: quiet}
}

func (g *DirectBuilder) BuildFile() string { return "" }

func (g *DirectBuilder) Generate(plan *toolchain.Plan) (string, error) {
	g.plan = plan
	return "", nil // no build file needed
}

// Invoke performs the actual build
func (g *DirectBuilder) Invoke(ctx context.Context, buildDir string) error {
	if g.plan == nil {
		return errNoPlan
	}

	runner := g.runner
	if g.quiet {
		pb := msg.NewProgressBar(len(g.plan.Steps()), "build", os.Stdout)
		defer pb.Finish()
		runner = toolchain.RunnerFunc(func(ctx context.Context, step toolchain.Step) error {
			err := g.runner.Run(ctx, step)
			if err == nil {
				pb.Step()
			}
			return err
		})
	}

	return toolchain.Execute(ctx, g.plan, runner, g.jobs)
}
