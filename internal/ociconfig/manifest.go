// Package ociconfig reads the manifest.json and per-image config JSON of
// an unpacked docker-save-style archive, and aligns the history lists of
// two configs to find the metadata directives that must be replayed into
// a delta image's recipe.
package ociconfig

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
)

// rootfsTypeLayers is the only rootfs.type this tool understands; it
// mirrors the OCI image-spec's layered rootfs convention (spec.md §3).
const rootfsTypeLayers = "layers"

// ManifestEntry is the docker-save manifest.json format: an array with
// (conventionally) one element naming the image's config blob and its
// ordered layer tarball paths, both relative to the archive root.
type ManifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags,omitempty"`
	Layers   []string `json:"Layers"`
}

// ReadManifest parses manifest.json at the root of an unpacked archive
// and returns its first (and, per spec.md §4.2, only relevant) entry.
func ReadManifest(archiveRoot string) (*ManifestEntry, error) {
	path := filepath.Join(archiveRoot, "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrMalformedArchive, err.Error())
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.Wrap(deltaerr.ErrMalformedManifest, err.Error())
	}
	if len(entries) == 0 {
		return nil, errors.Wrap(deltaerr.ErrMalformedManifest, "manifest.json has no entries")
	}

	entry := entries[0]
	if entry.Config == "" || len(entry.Layers) == 0 {
		return nil, errors.Wrap(deltaerr.ErrMalformedManifest, "manifest entry missing Config or Layers")
	}
	return &entry, nil
}

// ReadConfig parses the image config JSON named by a manifest entry and
// validates that its rootfs is layer-based.
func ReadConfig(archiveRoot string, configPath string) (*v1.Image, error) {
	path := filepath.Join(archiveRoot, configPath)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrMalformedArchive, err.Error())
	}

	var img v1.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, errors.Wrap(deltaerr.ErrMalformedManifest, err.Error())
	}

	if img.RootFS.Type != rootfsTypeLayers {
		return nil, errors.Wrapf(deltaerr.ErrUnsupportedRootfs, "got %q", img.RootFS.Type)
	}
	return &img, nil
}
