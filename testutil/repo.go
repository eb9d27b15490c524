package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestRepo creates a directory that looks like a git checkout: it has a
// .git directory and the given files. No git binary is needed.
// Returns the repository root.
func SetupTestRepo(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create .git: %v", err)
	}
	WriteFiles(t, dir, files)

	// Resolve symlinks so paths compare equal to filepath.Abs results
	// on systems where the temp dir is a link (macOS /var).
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("failed to resolve %s: %v", dir, err)
	}
	return resolved
}
