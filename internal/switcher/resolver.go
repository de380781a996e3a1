package switcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps a clip identifier to a readable file.
type Resolver interface {
	Resolve(id string) (string, error)
}

// DirResolver resolves identifiers as file names inside Root.
type DirResolver struct {
	Root string
}

// Resolve returns the absolute path of id under Root. Identifiers that are
// empty, contain a path separator or do not name a regular file yield
// ErrUnknownTarget.
func (d DirResolver) Resolve(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
	path, err := filepath.Abs(filepath.Join(d.Root, id))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", id, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnknownTarget, path, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrUnknownTarget, path)
	}
	return path, nil
}
