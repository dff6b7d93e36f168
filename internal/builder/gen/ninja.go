package gen

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/qobs-build/mcubuild/internal/msg"
	"github.com/qobs-build/mcubuild/internal/toolchain"
)

// NinjaGen writes a build.ninja with one edge per step. Every edge carries its
// full command line, quoted for the /bin/sh ninja hands it to.
type NinjaGen struct{}

func (g *NinjaGen) BuildFile() string { return "build.ninja" }

var (
	ninjaPathEscaper  = strings.NewReplacer("$", "$$", ":", "$:", " ", "$ ")
	ninjaValueEscaper = strings.NewReplacer("$", "$$")
)

func quote(s string) string { return ninjaPathEscaper.Replace(s) }

func quoteAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = quote(p)
	}
	return out
}

// ninja folds an escaped newline into the surrounding line, so a newline inside an
// argument cannot be written to a build file
func checkNewlines(step toolchain.Step) error {
	for _, a := range step.Argv() {
		if strings.ContainsAny(a, "\r\n") {
			return fmt.Errorf("%s %s: argument %q contains a newline, use the direct generator", step.Kind, step.Output, a)
		}
	}
	return nil
}

func (g *NinjaGen) Generate(plan *toolchain.Plan) (string, error) {
	var sb strings.Builder

	writeln(&sb, "ninja_required_version = 1.1")
	writeln(&sb)

	write(&sb,
		`rule run
  command = $cmd
  description = $desc
`)
	writeln(&sb)

	seen := make(map[string]bool)
	for _, step := range plan.Steps() {
		if seen[step.Output] {
			msg.Warn("skipping second edge for %s", step.Output)
			continue
		}
		seen[step.Output] = true
		if err := checkNewlines(step); err != nil {
			return "", err
		}

		writeln(&sb, "build ", quote(step.Output), ": run ", strings.Join(quoteAll(step.Inputs), " "))
		writeln(&sb, "  cmd = ", ninjaValueEscaper.Replace(step.String()))
		writeln(&sb, "  desc = ", step.Kind.String(), " ", ninjaValueEscaper.Replace(step.Output))
	}
	writeln(&sb)
	writeln(&sb, "default ", quote(plan.Objcopy.Output))

	return sb.String(), nil
}

func (g *NinjaGen) Invoke(ctx context.Context, buildDir string) error {
	cmd := exec.CommandContext(ctx, "ninja", "-C", buildDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

func write(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
}

func writeln(sb *strings.Builder, s ...string) {
	write(sb, s...)
	sb.WriteByte('\n')
}
