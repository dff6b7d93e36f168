package builder

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v6"
)

const shortHashLen = 7

var errNoHead = errors.New("repository has no commits")

// gitRevision returns the short hash of HEAD for the worktree containing dir
func gitRevision(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("could not open git repository at %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return "", errNoHead
	}

	hash := head.Hash().String()
	return hash[:shortHashLen], nil
}

// revisionDefine formats rev as a C string literal for a -D flag
func revisionDefine(rev string) string {
	return `"` + rev + `"`
}
