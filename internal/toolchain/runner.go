package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"

	"github.com/qobs-build/mcubuild/internal/msg"
)

// Runner executes a single step
type Runner interface {
	Run(ctx context.Context, step Step) error
}

// RunnerFunc adapts a function to a Runner
type RunnerFunc func(ctx context.Context, step Step) error

func (f RunnerFunc) Run(ctx context.Context, step Step) error { return f(ctx, step) }

// ExecRunner starts each step as a child process. Tool output is indented under the
// step line.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	// Quiet suppresses the per-step line and holds tool output back, it is written
	// to Stderr only when the step fails
	Quiet bool
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *ExecRunner) Run(ctx context.Context, step Step) error {
	if r.Quiet {
		return r.runQuiet(ctx, step)
	}
	fmt.Fprintf(r.Stdout, "%s %s\n", step.Kind, step.Output)

	cmd := exec.CommandContext(ctx, step.Program, step.Args...)
	cmd.Stdout = &msg.IndentWriter{Indent: "    ", W: r.Stdout}
	cmd.Stderr = &msg.IndentWriter{Indent: "    ", W: r.Stderr}
	return cmd.Run()
}

func (r *ExecRunner) runQuiet(ctx context.Context, step Step) error {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, step.Program, step.Args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		var report bytes.Buffer
		fmt.Fprintf(&report, "\n%s %s\n", step.Kind, step.Output)
		iw := &msg.IndentWriter{Indent: "    ", W: &report}
		iw.Write(out.Bytes())
		r.Stderr.Write(report.Bytes())
	}
	return err
}

// RecordingRunner remembers every step without running anything. Fail, when set,
// decides the result of each step.
type RecordingRunner struct {
	Fail func(step Step) error

	mu    sync.Mutex
	steps []Step
}

func (r *RecordingRunner) Run(ctx context.Context, step Step) error {
	r.mu.Lock()
	r.steps = append(r.steps, step)
	r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail(step)
	}
	return nil
}

// Steps returns the recorded steps in the order they ran
func (r *RecordingRunner) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}
