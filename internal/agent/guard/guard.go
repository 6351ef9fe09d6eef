// Package guard implements the directory-scope guard (spec §4.11):
// the one place path policy lives for the Desktop Agent.
package guard

import (
	"fmt"
	"os"
	"path/filepath"
)

// Guard holds a canonicalized allow-list of absolute directory paths.
type Guard struct {
	allowed []string
}

// New canonicalizes each entry of dirs and returns a Guard. Entries
// that cannot be made absolute are skipped rather than rejected here;
// callers (internal/agent/config) are expected to have already
// validated the raw environment value.
func New(dirs []string) *Guard {
	g := &Guard{}
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			g.allowed = append(g.allowed, filepath.Clean(abs))
		}
	}
	return g
}

// Check reports whether candidate is within the allow-list: it must
// canonicalize to exactly an allow-list entry, or to a path beginning
// with an entry followed by a path separator (spec §8 "Directory
// containment" law). It also requires the candidate to exist and be a
// directory.
func (g *Guard) Check(candidate string) (string, error) {
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve working directory %q: %w", candidate, err)
	}
	canon := filepath.Clean(abs)

	if !g.contains(canon) {
		return "", fmt.Errorf("working directory %q is not allowed", candidate)
	}

	info, err := os.Stat(canon)
	if err != nil {
		return "", fmt.Errorf("working directory %q does not exist: %w", candidate, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %q is not a directory", candidate)
	}

	return canon, nil
}

func (g *Guard) contains(canon string) bool {
	for _, a := range g.allowed {
		if canon == a || len(canon) > len(a) && canon[:len(a)] == a && canon[len(a)] == os.PathSeparator {
			return true
		}
	}
	return false
}
