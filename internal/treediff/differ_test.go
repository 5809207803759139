package treediff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// assertPaths compares two removal path lists with cmp.Diff so a
// mismatch prints which entries differ rather than just "not equal".
func assertPaths(t *testing.T, want, got []string) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("removal paths mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffNoChanges(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	writeFile(t, filepath.Join(base, "etc", "conf"), "v1\n")
	writeFile(t, filepath.Join(update, "etc", "conf"), "v1\n")

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	empty, err := d.Empty()
	require.NoError(t, err)
	require.True(t, empty, "byte-identical files must not appear in additions tree")
	require.Empty(t, d.RemovedFiles)
	require.Empty(t, d.RemovedDirs)
}

func TestDiffFileAdded(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	require.NoError(t, os.MkdirAll(filepath.Join(base, "etc"), 0755))
	writeFile(t, filepath.Join(update, "etc", "newconf"), "v2\n")

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	require.Empty(t, d.RemovedFiles)
	require.Empty(t, d.RemovedDirs)

	content, err := os.ReadFile(filepath.Join(out, "etc", "newconf"))
	require.NoError(t, err)
	require.Equal(t, "v2\n", string(content))
}

func TestDiffFileDeleted(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	writeFile(t, filepath.Join(base, "etc", "oldconf"), "v1\n")
	require.NoError(t, os.MkdirAll(filepath.Join(update, "etc"), 0755))

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	assertPaths(t, []string{"/etc/oldconf"}, d.RemovedFiles)
	require.Empty(t, d.RemovedDirs)

	empty, err := d.Empty()
	require.NoError(t, err)
	require.True(t, empty)
}

func TestDiffFileModified(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	writeFile(t, filepath.Join(base, "bin", "tool"), "v1")
	writeFile(t, filepath.Join(update, "bin", "tool"), "v2")

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	require.Empty(t, d.RemovedFiles)

	content, err := os.ReadFile(filepath.Join(out, "bin", "tool"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(content))
}

func TestDiffDirectoryReplacesFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	writeFile(t, filepath.Join(base, "x"), "was a file")
	writeFile(t, filepath.Join(update, "x", "child"), "now a dir")

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	assertPaths(t, []string{"/x"}, d.RemovedFiles)
	require.Empty(t, d.RemovedDirs)

	content, err := os.ReadFile(filepath.Join(out, "x", "child"))
	require.NoError(t, err)
	require.Equal(t, "now a dir", string(content))
}

func TestDiffSymlinkTargetChange(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	require.NoError(t, os.MkdirAll(filepath.Join(base, "bin"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(update, "bin"), 0755))
	require.NoError(t, os.Symlink("/bin/dash", filepath.Join(base, "bin", "sh")))
	require.NoError(t, os.Symlink("/bin/bash", filepath.Join(update, "bin", "sh")))

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	require.Empty(t, d.RemovedFiles, "symlink replacement is an overwrite via addition, not a deletion")

	target, err := os.Readlink(filepath.Join(out, "bin", "sh"))
	require.NoError(t, err)
	require.Equal(t, "/bin/bash", target)
}

func TestDiffBaseSideSymlinkFunnyEntryNoDeletion(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")
	out := filepath.Join(dir, "out")

	require.NoError(t, os.MkdirAll(base, 0755))
	require.NoError(t, os.Symlink("/nonexistent", filepath.Join(base, "y")))
	writeFile(t, filepath.Join(update, "y", "child"), "a real directory now")

	d, err := Diff(base, update, out)
	require.NoError(t, err)
	require.Empty(t, d.RemovedFiles)
	require.Empty(t, d.RemovedDirs)

	content, err := os.ReadFile(filepath.Join(out, "y", "child"))
	require.NoError(t, err)
	require.Equal(t, "a real directory now", string(content))
}

func TestDiffDeterministicOrdering(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base")
	update := filepath.Join(dir, "update")

	for _, name := range []string{"zeta", "alpha", "mu"} {
		require.NoError(t, os.MkdirAll(filepath.Join(base, name), 0755))
	}

	d, err := Diff(base, update, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assertPaths(t, []string{"/alpha", "/mu", "/zeta"}, d.RemovedDirs)
}
