package builder

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"

	"github.com/qobs-build/mcubuild/internal/builder/gen"
	"github.com/qobs-build/mcubuild/internal/config"
	"github.com/qobs-build/mcubuild/internal/msg"
	"github.com/qobs-build/mcubuild/internal/resolver"
	"github.com/qobs-build/mcubuild/internal/toolchain"
)

const (
	GeneratorDirect = "direct"
	GeneratorNinja  = "ninja"
)

// Options control a single Build call
type Options struct {
	Generator string
	Jobs      int
	// DryRun prints the planned commands to Out and runs nothing
	DryRun bool
	// Quiet replaces the per-step lines with a progress bar
	Quiet bool
	// Runner overrides process execution for the direct generator
	Runner toolchain.Runner
	Out    io.Writer
}

type Builder struct {
	settings *config.Settings
}

// NewBuilderInDirectory loads the config file found in path for the given profile
func NewBuilderInDirectory(path, configFile, profile string) (*Builder, error) {
	settings, err := config.Load(path, configFile, profile)
	if err != nil {
		return nil, err
	}
	return NewBuilder(settings), nil
}

func NewBuilder(settings *config.Settings) *Builder {
	return &Builder{settings: settings}
}

func (b *Builder) Settings() *config.Settings { return b.settings }

// Resolve discovers the source and include sets. Missing include bases are only
// reported, the compiler will complain about headers it cannot find.
func (b *Builder) Resolve() (*resolver.Sources, error) {
	src, err := resolver.Resolve(b.settings.ResolverInput())
	if err != nil {
		return nil, err
	}
	for _, missing := range src.Missing {
		msg.Warn("include base %s does not exist, skipping", missing)
	}
	return src, nil
}

// defines returns the configured defines plus the git revision define when asked for
func (b *Builder) defines() (map[string]string, string) {
	defines := maps.Clone(b.settings.Defines)
	if b.settings.GitDefine == "" {
		return defines, ""
	}

	rev, err := gitRevision(b.settings.Root)
	if err != nil {
		msg.Warn("%s not defined: %v", b.settings.GitDefine, err)
		return defines, ""
	}
	if defines == nil {
		defines = make(map[string]string)
	}
	defines[b.settings.GitDefine] = revisionDefine(rev)
	return defines, rev
}

// Plan resolves the sources and builds the command plan. The toolchain is looked up
// unless lookup is false, in which case bare program names are used.
func (b *Builder) Plan(lookup bool) (*toolchain.Plan, string, error) {
	s := b.settings

	tc := toolchain.Bare(s.Prefix)
	if lookup {
		var err error
		if tc, err = toolchain.Find(s.Prefix, s.BinDir); err != nil {
			return nil, "", err
		}
	}

	src, err := b.Resolve()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve sources: %w", err)
	}

	defines, rev := b.defines()
	plan, err := toolchain.NewPlan(toolchain.Options{
		Toolchain:    tc,
		OutputDir:    s.OutputDir,
		Elf:          s.Elf,
		Hex:          s.Hex,
		Device:       s.Device,
		CPUFlags:     s.CPUFlags,
		OptLevel:     s.OptLevel,
		LinkerScript: s.LinkerScript,
		Defines:      defines,
		Cflags:       s.Cflags,
		Ldflags:      s.Ldflags,
	}, src)
	if err != nil {
		return nil, "", err
	}
	for _, w := range plan.Warnings {
		msg.Warn("%s", w)
	}
	return plan, rev, nil
}

func createGenerator(opts Options) (gen.Generator, error) {
	switch opts.Generator {
	case GeneratorDirect, "":
		return gen.NewDirectBuilder(opts.Runner, opts.Jobs, opts.Quiet), nil
	case GeneratorNinja:
		return &gen.NinjaGen{}, nil
	default:
		return nil, fmt.Errorf("unknown generator %q", opts.Generator)
	}
}

// Build resolves the sources, plans the toolchain calls and hands them to the generator
func (b *Builder) Build(ctx context.Context, opts Options) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	g, err := createGenerator(opts)
	if err != nil {
		return err
	}

	// a dry run or an injected runner never touches the real toolchain
	plan, rev, err := b.Plan(!opts.DryRun && opts.Runner == nil)
	if err != nil {
		return err
	}

	if opts.DryRun {
		for _, step := range plan.Steps() {
			fmt.Fprintln(out, step.String())
		}
		return nil
	}

	buildDir := b.settings.OutputDir
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return err
	}

	content, err := g.Generate(plan)
	if err != nil {
		return err
	}
	if content != "" {
		buildFile := filepath.Join(buildDir, g.BuildFile())
		if err := os.WriteFile(buildFile, []byte(content), 0644); err != nil {
			return err
		}
	}

	if err := g.Invoke(ctx, buildDir); err != nil {
		return err
	}

	if err := newManifest(b, plan, rev).save(buildDir); err != nil {
		msg.Warn("failed to write build manifest: %v", err)
	}

	msg.Info("build complete: %s", b.settings.Hex)
	return nil
}
