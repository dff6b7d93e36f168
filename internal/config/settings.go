package config

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/qobs-build/mcubuild/internal/resolver"
)

// Settings is the effective configuration of one build: the base sections with the
// selected profile layered on top and every path made absolute
type Settings struct {
	Profile string
	Name    string

	Root      string
	OutputDir string
	Elf       string
	Hex       string

	Exclude ExcludeSection

	Prefix     string
	BinDir     string
	SystemDirs []string
	UserDirs   []string

	Device       string
	CPUFlags     []string
	OptLevel     string
	LinkerScript string
	Defines      map[string]string
	Cflags       []string
	Ldflags      []string
	Asm          bool
	GitDefine    string
}

func (c *Config) abs(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.basedir, path)
}

func (c *Config) absAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, c.abs(p))
	}
	return out
}

// Settings flattens the config for the named profile
func (c *Config) Settings(profile string) (*Settings, error) {
	prof, ok := c.Profile[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q, known profiles: %s", profile, strings.Join(c.Profiles(), ", "))
	}

	exclude := ExcludeSection{
		Dirs:  slices.Clone(c.Exclude.Dirs),
		Files: slices.Clone(c.Exclude.Files),
		Globs: slices.Clone(c.Exclude.Globs),
	}
	if err := mergeStructs(&exclude, prof.Exclude); err != nil {
		return nil, err
	}
	if err := validateGlobs("profile."+profile+".exclude", exclude.Globs); err != nil {
		return nil, err
	}

	target := c.Target
	target.CPUFlags = slices.Clone(c.Target.CPUFlags)
	target.Cflags = slices.Clone(c.Target.Cflags)
	target.Ldflags = slices.Clone(c.Target.Ldflags)
	target.Defines = maps.Clone(c.Target.Defines)
	if prof.Target.CPUFlags != nil {
		// cpu flags describe one core, a profile replaces them instead of appending
		target.CPUFlags = nil
	}
	if err := mergeStructs(&target, prof.Target); err != nil {
		return nil, err
	}

	if c.Project.Root == "" {
		return nil, errNoRoot
	}
	if target.Device == "" {
		return nil, errNoDevice
	}

	root := filepath.Clean(c.abs(c.Project.Root))
	outDir := c.abs(c.Project.OutputDir)
	name := c.Project.Name
	if name == "" {
		name = filepath.Base(root)
	}

	s := &Settings{
		Profile:      profile,
		Name:         name,
		Root:         root,
		OutputDir:    outDir,
		Elf:          joinOut(outDir, c.Project.Elf),
		Hex:          joinOut(outDir, c.Project.Hex),
		Exclude:      exclude,
		Prefix:       c.Toolchain.Prefix,
		BinDir:       c.abs(c.Toolchain.BinDir),
		SystemDirs:   c.absAll(c.Toolchain.SystemDirs),
		UserDirs:     c.absAll(c.Toolchain.UserDirs),
		Device:       target.Device,
		CPUFlags:     target.CPUFlags,
		OptLevel:     target.OptLevel,
		LinkerScript: c.abs(target.LinkerScript),
		Defines:      target.Defines,
		Cflags:       target.Cflags,
		Ldflags:      target.Ldflags,
		Asm:          target.Asm != nil && *target.Asm,
		GitDefine:    target.GitDefine,
	}
	return s, nil
}

func joinOut(outDir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(outDir, name)
}

// Rules returns the exclusion rules for the resolver
func (s *Settings) Rules() resolver.Rules {
	return resolver.Rules{
		Dirs:  s.Exclude.Dirs,
		Files: s.Exclude.Files,
		Globs: s.Exclude.Globs,
	}
}

func (s *Settings) ResolverInput() resolver.Input {
	return resolver.Input{
		Root:       s.Root,
		Rules:      s.Rules(),
		Asm:        s.Asm,
		SystemDirs: s.SystemDirs,
		UserDirs:   s.UserDirs,
	}
}
