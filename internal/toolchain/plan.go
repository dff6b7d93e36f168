package toolchain

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/mcubuild/internal/resolver"
)

var errNoSources = errors.New("no C or assembly sources found")

type StepKind int

const (
	Compile StepKind = iota
	Assemble
	Link
	Objcopy
)

func (k StepKind) String() string {
	switch k {
	case Compile:
		return "CC"
	case Assemble:
		return "AS"
	case Link:
		return "LINK"
	case Objcopy:
		return "HEX"
	}
	return "?"
}

// Step is one invocation of an external program
type Step struct {
	Kind    StepKind
	Program string
	Args    []string
	Inputs  []string
	Output  string
}

// Argv returns the full command line, program included
func (s Step) Argv() []string {
	return append([]string{s.Program}, s.Args...)
}

func isShellSafe(c rune) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.ContainsRune("-_./,:=+@%", c)
}

// quoteArg quotes a for a POSIX shell. Anything outside a small set of plain
// characters is wrapped in single quotes, which the shell takes literally.
func quoteArg(a string) string {
	if a != "" && strings.IndexFunc(a, func(c rune) bool { return !isShellSafe(c) }) < 0 {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}

// String renders the command line for /bin/sh, every argument reaches the program
// unchanged
func (s Step) String() string {
	argv := s.Argv()
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

// Options are the flags a plan is built from
type Options struct {
	Toolchain    Toolchain
	OutputDir    string
	Elf          string
	Hex          string
	Device       string
	CPUFlags     []string
	OptLevel     string
	LinkerScript string
	Defines      map[string]string
	Cflags       []string
	Ldflags      []string
}

// Plan is the ordered list of steps of one build
type Plan struct {
	Compile []Step
	Link    Step
	Objcopy Step
	// Warnings are non-fatal oddities found while planning
	Warnings []string
}

// Steps returns every step in execution order
func (p *Plan) Steps() []Step {
	steps := slices.Clone(p.Compile)
	return append(steps, p.Link, p.Objcopy)
}

// ObjectPath maps a source to its object file in the flat output directory
func ObjectPath(outDir, src string) string {
	base := filepath.Base(src)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".o")
}

// DedupObjects drops repeated paths and keeps the first-seen order
func DedupObjects(objs []string) []string {
	seen := make(map[string]struct{}, len(objs))
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

func includeFlags(dirs ...[]string) []string {
	var flags []string
	for _, set := range dirs {
		for _, d := range set {
			if strings.TrimSpace(d) == "" {
				continue
			}
			flags = append(flags, "-I"+d)
		}
	}
	return flags
}

func defineFlags(device string, defines map[string]string) []string {
	flags := []string{"-D" + device}
	for _, name := range slices.Sorted(maps.Keys(defines)) {
		if v := defines[name]; v != "" {
			flags = append(flags, "-D"+name+"="+v)
		} else {
			flags = append(flags, "-D"+name)
		}
	}
	return flags
}

func (o Options) optFlags() []string {
	if o.OptLevel == "" {
		return nil
	}
	return []string{"-O" + o.OptLevel}
}

// NewPlan builds the compile, link and objcopy steps for the resolved sources.
// Sources are taken in the order given, which is the sorted order from the resolver.
func NewPlan(opts Options, src *resolver.Sources) (*Plan, error) {
	if len(src.C) == 0 && len(src.Asm) == 0 {
		return nil, errNoSources
	}

	plan := &Plan{}
	incs := includeFlags(src.ProjectIncDirs, src.SystemIncDirs, src.UserIncDirs)
	defines := defineFlags(opts.Device, opts.Defines)
	producers := make(map[string]string)
	var objects []string

	addObject := func(srcPath string) string {
		obj := ObjectPath(opts.OutputDir, srcPath)
		if prev, ok := producers[obj]; ok {
			plan.Warnings = append(plan.Warnings, fmt.Sprintf("%s and %s both compile to %s", prev, srcPath, filepath.Base(obj)))
		} else {
			producers[obj] = srcPath
		}
		objects = append(objects, obj)
		return obj
	}

	for _, c := range src.C {
		obj := addObject(c)
		args := slices.Clone(opts.CPUFlags)
		args = append(args, opts.optFlags()...)
		args = append(args, "-c", c, "-o", obj)
		args = append(args, defines...)
		args = append(args, opts.Cflags...)
		args = append(args, incs...)
		plan.Compile = append(plan.Compile, Step{
			Kind:    Compile,
			Program: opts.Toolchain.CC,
			Args:    args,
			Inputs:  []string{c},
			Output:  obj,
		})
	}

	for _, s := range src.Asm {
		obj := addObject(s)
		args := []string{s, "-o", obj}
		args = append(args, includeFlags(src.ProjectIncDirs)...)
		plan.Compile = append(plan.Compile, Step{
			Kind:    Assemble,
			Program: opts.Toolchain.AS,
			Args:    args,
			Inputs:  []string{s},
			Output:  obj,
		})
	}

	objects = DedupObjects(objects)
	linkArgs := slices.Clone(opts.CPUFlags)
	linkArgs = append(linkArgs, opts.optFlags()...)
	if opts.LinkerScript != "" {
		linkArgs = append(linkArgs, "-T", opts.LinkerScript)
	}
	linkArgs = append(linkArgs, "-specs=nosys.specs", "-Wl,--gc-sections")
	linkArgs = append(linkArgs, opts.Ldflags...)
	linkArgs = append(linkArgs, "-o", opts.Elf)
	linkArgs = append(linkArgs, objects...)
	plan.Link = Step{
		Kind:    Link,
		Program: opts.Toolchain.CC,
		Args:    linkArgs,
		Inputs:  objects,
		Output:  opts.Elf,
	}

	plan.Objcopy = Step{
		Kind:    Objcopy,
		Program: opts.Toolchain.Objcopy,
		Args:    []string{"-O", "ihex", opts.Elf, opts.Hex},
		Inputs:  []string{opts.Elf},
		Output:  opts.Hex,
	}

	return plan, nil
}
