// Package archive unpacks an image archive tarball to a working
// directory and merges a sequence of layer tarballs into a single
// filesystem tree, applying OCI whiteout semantics between layers
// (spec.md §4.1).
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
	"github.com/brauner/go-docker-melt/internal/tarutils"
)

// Unpack extracts archiveTar flatly (no nesting) into a fresh
// subdirectory of workDir and returns its path.
func Unpack(archiveTar string, workDir string, name string) (string, error) {
	dest := filepath.Join(workDir, name)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}
	if err := tarutils.ExtractTar(archiveTar, dest); err != nil {
		return "", errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}
	return dest, nil
}

// MergedTree is the filesystem obtained by applying a sequence of layer
// tarballs to an empty root, in order, with whiteout semantics applied.
type MergedTree struct {
	Root string
}

// BuildMergedTree extracts each of layerPaths (relative to archiveRoot,
// in order) into dest, processing each layer's whiteout markers against
// the tree accumulated so far before the next layer is applied.
func BuildMergedTree(archiveRoot string, layerPaths []string, dest string, log *logrus.Entry) (*MergedTree, error) {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	for _, rel := range layerPaths {
		layerTar := filepath.Join(archiveRoot, rel)
		if log != nil {
			log.WithField("layer", rel).Debug("merging layer")
		}
		if err := mergeLayer(layerTar, dest); err != nil {
			return nil, errors.Wrapf(deltaerr.ErrExtractionFailed, "merging layer %s: %s", rel, err)
		}
	}

	return &MergedTree{Root: dest}, nil
}

// mergeLayer extracts one layer tarball into dest, then applies that
// layer's whiteout directives: opaque markers discard every
// pre-existing (inherited) child of the marked directory except the
// entries this same layer re-adds under it, and per-entry markers
// delete the named sibling outright. Both marker kinds are removed
// from the tree rather than left on disk, matching how a real overlay
// filesystem or graphdriver would present the merged view.
func mergeLayer(layerTar string, dest string) error {
	f, err := os.Open(layerTar)
	if err != nil {
		return err
	}
	defer f.Close()

	r := tar.NewReader(f)

	addedByDir := map[string]map[string]bool{} // every entry this layer itself added, by parent dir
	opaqueDirs := map[string]bool{}
	var deletions [][2]string // (dir, name)

	for header, err := r.Next(); err != io.EOF; header, err = r.Next() {
		if err != nil {
			return err
		}

		name := filepath.Clean(header.Name)
		dir := filepath.Dir(name)
		base := filepath.Base(name)

		if deletes, ok := tarutils.IsWhiteout(base); ok {
			if deletes == "" {
				opaqueDirs[dir] = true
			} else {
				deletions = append(deletions, [2]string{dir, deletes})
			}
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			err = tarutils.ExtractDir(dest, header)
		case tar.TypeSymlink:
			err = tarutils.ExtractSymlink(dest, header)
		case tar.TypeLink:
			err = tarutils.ExtractLink(dest, header)
		case tar.TypeChar, tar.TypeBlock:
			err = tarutils.ExtractDev(dest, header)
		default:
			err = tarutils.ExtractReg(dest, header, r)
		}
		if err != nil {
			return err
		}

		if addedByDir[dir] == nil {
			addedByDir[dir] = map[string]bool{}
		}
		addedByDir[dir][base] = true
	}

	// Applied after the full scan so an opaque marker's effect never
	// depends on whether it was read before or after the siblings this
	// same layer re-adds under it.
	for dir := range opaqueDirs {
		full := filepath.Join(dest, dir)
		entries, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		keep := addedByDir[dir]
		for _, e := range entries {
			if keep[e.Name()] {
				continue
			}
			if err := os.RemoveAll(filepath.Join(full, e.Name())); err != nil {
				return err
			}
		}
	}

	// Stable order so deletions of a directory and its children (if both
	// are named) don't race on traversal order.
	sort.Slice(deletions, func(i, j int) bool { return deletions[i][0] < deletions[j][0] })
	for _, d := range deletions {
		if err := os.RemoveAll(filepath.Join(dest, d[0], d[1])); err != nil {
			return err
		}
	}

	return nil
}
