package gen

import (
	"context"

	"github.com/qobs-build/mcubuild/internal/toolchain"
)

// Generator either runs a plan itself or emits a build file for another tool
type Generator interface {
	// Generate prepares the plan and returns the build file contents, if any
	Generate(plan *toolchain.Plan) (string, error)
	// BuildFile is the name of the file Generate's output is written to
	BuildFile() string
	Invoke(ctx context.Context, buildDir string) error
}
