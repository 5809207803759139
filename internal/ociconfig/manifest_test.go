package ociconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
)

func writeArchiveFixture(t *testing.T, rootfsType string) string {
	t.Helper()
	dir := t.TempDir()

	manifest := `[{"Config":"config.json","RepoTags":["app:latest"],"Layers":["a/layer.tar","b/layer.tar"]}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifest), 0644))

	config := `{"rootfs":{"type":"` + rootfsType + `","diff_ids":["sha256:aaaa","sha256:bbbb"]},"history":[{"created_by":"FROM scratch"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0644))

	return dir
}

func TestReadManifestAndConfig(t *testing.T) {
	dir := writeArchiveFixture(t, "layers")

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/layer.tar", "b/layer.tar"}, manifest.Layers)

	cfg, err := ReadConfig(dir, manifest.Config)
	require.NoError(t, err)
	assert.Equal(t, "layers", cfg.RootFS.Type)
	assert.Len(t, cfg.History, 1)
}

func TestReadConfigRejectsUnsupportedRootfs(t *testing.T) {
	dir := writeArchiveFixture(t, "tar-split")

	manifest, err := ReadManifest(dir)
	require.NoError(t, err)

	_, err = ReadConfig(dir, manifest.Config)
	require.Error(t, err)
	assert.ErrorIs(t, err, deltaerr.ErrUnsupportedRootfs)
}

func TestReadManifestMissingFile(t *testing.T) {
	_, err := ReadManifest(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, deltaerr.ErrMalformedArchive)
}
