// Package packager turns a treediff.Delta's additions tree into a single
// tar archive, remapping its root to "/" (spec.md §4.5).
package packager

import (
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
	"github.com/brauner/go-docker-melt/internal/tarutils"
	"github.com/brauner/go-docker-melt/internal/treediff"
)

// Result describes the packaged additions tarball, or its absence when
// the additions tree was empty.
type Result struct {
	Path   string
	Empty  bool
	Size   int64
	Digest digest.Digest
}

// Package writes delta's additions tree into a tar archive at path. If
// the additions tree is empty, no archive is written and Result.Empty is
// true (the recipe synthesizer then omits the ADD directive).
func Package(delta *treediff.Delta, path string) (*Result, error) {
	empty, err := delta.Empty()
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}
	if empty {
		return &Result{Empty: true}, nil
	}

	if err := tarutils.CreateTar(path, delta.AdditionsRoot, delta.AdditionsRoot); err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	dgst, err := digest.FromReader(f)
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	return &Result{Path: path, Size: info.Size(), Digest: dgst}, nil
}
