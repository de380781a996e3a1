package switcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDirResolver_Resolve(t *testing.T) {
	dir := newClipDir(t, "idle.mp4")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
		t.Fatal(err)
	}
	r := DirResolver{Root: dir}

	path, err := r.Resolve("idle.mp4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !filepath.IsAbs(path) || filepath.Base(path) != "idle.mp4" {
		t.Errorf("path = %q", path)
	}

	for _, id := range []string{"", ".", "..", "missing.mp4", "sub", "../idle.mp4", "sub/idle.mp4", `sub\idle.mp4`} {
		if _, err := r.Resolve(id); !errors.Is(err, ErrUnknownTarget) {
			t.Errorf("Resolve(%q) = %v, want ErrUnknownTarget", id, err)
		}
	}
}
