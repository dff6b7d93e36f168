// Package resolver finds the source, assembly and header files of a project and
// derives the include directories handed to the compiler.
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	ExtC      = ".c"
	ExtAsm    = ".s"
	ExtHeader = ".h"
)

// Rules is the exclusion rule set applied during discovery
type Rules struct {
	// Dirs are substrings of directory paths; a matching directory is pruned
	Dirs []string
	// Files are substrings of file names
	Files []string
	// Globs are doublestar patterns matched against the slash-separated path relative
	// to the discovery root
	Globs []string
}

// Result is a resolved set together with the configured inputs that were skipped
// because they do not exist
type Result struct {
	Set     FileSet
	Missing []string
}

// containsAny reports whether path contains one of subs. Both the native and the
// slash form are compared so that "drivers/sensor" also matches on windows.
func containsAny(path string, subs []string) bool {
	slashPath := filepath.ToSlash(path)
	for _, sub := range subs {
		if sub == "" {
			continue
		}
		if strings.Contains(path, sub) || strings.Contains(slashPath, filepath.ToSlash(sub)) {
			return true
		}
	}
	return false
}

func matchesGlob(rel string, globs []string) (bool, error) {
	for _, pat := range globs {
		ok, err := doublestar.Match(pat, rel)
		if err != nil {
			return false, fmt.Errorf("exclusion glob %q: %w", pat, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Discover walks root and returns every file ending in ext that survives the rules.
// Excluded directories are pruned, their children are never visited. Any traversal
// error aborts the walk.
func Discover(root, ext string, rules Rules) (FileSet, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	for _, pat := range rules.Globs {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("exclusion glob %q: %w", pat, doublestar.ErrBadPattern)
		}
	}

	set := NewFileSet()
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if containsAny(path, rules.Dirs) {
				return filepath.SkipDir
			}
			if rel == "." {
				return nil
			}
			skip, err := matchesGlob(rel, rules.Globs)
			if err != nil {
				return err
			}
			if skip {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if !strings.HasSuffix(name, ext) {
			return nil
		}
		if containsAny(name, rules.Files) {
			return nil
		}
		if skip, err := matchesGlob(rel, rules.Globs); err != nil || skip {
			return err
		}
		set.Add(path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("while scanning %s: %w", root, err)
	}
	return set, nil
}

// IncludeDirsOf returns the distinct parent directories of files
func IncludeDirsOf(files FileSet) FileSet {
	dirs := NewFileSet()
	for f := range files {
		dirs.Add(filepath.Dir(f))
	}
	return dirs
}

// SystemIncludeDirs collects every directory holding a header below the given bases.
// Bases that are not existing directories are reported in Result.Missing.
func SystemIncludeDirs(bases []string) (Result, error) {
	res := Result{Set: NewFileSet()}
	headers := NewFileSet()
	for _, base := range bases {
		if strings.TrimSpace(base) == "" {
			continue
		}
		stat, err := os.Stat(base)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return res, err
		}
		if err != nil || !stat.IsDir() {
			res.Missing = append(res.Missing, base)
			continue
		}

		found, err := Discover(base, ExtHeader, Rules{})
		if err != nil {
			return res, err
		}
		headers.Union(found)
	}
	res.Set = IncludeDirsOf(headers)
	return res, nil
}
