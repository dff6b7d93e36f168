package resolver

import (
	"path/filepath"
	"slices"
	"strings"
)

// FileSet is a deduplicated set of absolute paths
type FileSet map[string]struct{}

func NewFileSet(paths ...string) FileSet {
	s := make(FileSet, len(paths))
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

func (s FileSet) Add(path string) { s[filepath.Clean(path)] = struct{}{} }

func (s FileSet) Has(path string) bool {
	_, ok := s[filepath.Clean(path)]
	return ok
}

func (s FileSet) Len() int { return len(s) }

// Union adds every path of other into s
func (s FileSet) Union(other FileSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Sorted returns the paths ordered by their slash-separated form
func (s FileSet) Sorted() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	slices.SortFunc(paths, func(a, b string) int {
		return strings.Compare(filepath.ToSlash(a), filepath.ToSlash(b))
	})
	return paths
}
