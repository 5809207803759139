// Package delta orchestrates the one-pass pipeline described in
// spec.md §2: Archive Reader -> Manifest Reader -> Layer Prefix Matcher
// -> (parallel tail merges) -> Tree Differ -> Size Guard layer ceiling
// -> Delta Packager -> Size Guard size comparison -> Recipe Synthesizer.
// It is the library entry point the CLI
// (cmd/godockermelt) and tests call into.
package delta

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/brauner/go-docker-melt/internal/archive"
	"github.com/brauner/go-docker-melt/internal/deltaerr"
	"github.com/brauner/go-docker-melt/internal/layerset"
	"github.com/brauner/go-docker-melt/internal/ociconfig"
	"github.com/brauner/go-docker-melt/internal/packager"
	"github.com/brauner/go-docker-melt/internal/recipe"
	"github.com/brauner/go-docker-melt/internal/sizeguard"
	"github.com/brauner/go-docker-melt/internal/treediff"
)

// Result is the outcome of a successful Run: the synthesized recipe,
// the size report, and the bookkeeping a caller needs to summarize what
// happened.
type Result struct {
	Recipe           *recipe.Recipe
	SizeReport       sizeguard.Report
	SharedLayers     int
	RemovedFiles     []string
	RemovedDirs      []string
	AdditionsPresent bool
	OutDir           string
}

// Run executes the full pipeline for opts and returns its Result. There
// are no suspension points or cancellation (spec.md §5): the process
// either completes or returns an error. The two independent tail-merge
// builds are the one place concurrency is permitted, and are run under
// an errgroup.
func Run(opts Options, log *logrus.Logger) (*Result, error) {
	if log == nil {
		log = logrus.New()
	}

	if err := prepareOutDir(opts.OutDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.WorkDir, 0755); err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	baseArchiveRoot, err := archive.Unpack(opts.BaseArchive, opts.WorkDir, "base-archive")
	if err != nil {
		return nil, err
	}
	updateArchiveRoot, err := archive.Unpack(opts.UpdateArchive, opts.WorkDir, "update-archive")
	if err != nil {
		return nil, err
	}

	baseManifest, err := ociconfig.ReadManifest(baseArchiveRoot)
	if err != nil {
		return nil, err
	}
	updateManifest, err := ociconfig.ReadManifest(updateArchiveRoot)
	if err != nil {
		return nil, err
	}

	baseConfig, err := ociconfig.ReadConfig(baseArchiveRoot, baseManifest.Config)
	if err != nil {
		return nil, err
	}
	updateConfig, err := ociconfig.ReadConfig(updateArchiveRoot, updateManifest.Config)
	if err != nil {
		return nil, err
	}

	k, baseTail, updateTail, err := layerset.CommonPrefix(baseManifest.Layers, updateManifest.Layers)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"shared_layers": k, "base_tail": len(baseTail), "update_tail": len(updateTail)}).Info("matched layer prefix")

	baseMergedRoot := filepath.Join(opts.WorkDir, "base-merged")
	updateMergedRoot := filepath.Join(opts.WorkDir, "update-merged")

	g := new(errgroup.Group)
	g.Go(func() error {
		_, err := archive.BuildMergedTree(baseArchiveRoot, baseTail, baseMergedRoot, log.WithField("side", "base"))
		return err
	})
	g.Go(func() error {
		_, err := archive.BuildMergedTree(updateArchiveRoot, updateTail, updateMergedRoot, log.WithField("side", "update"))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	additionsRoot := filepath.Join(opts.WorkDir, "additions")
	delta, err := treediff.Diff(baseMergedRoot, updateMergedRoot, additionsRoot)
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	hasAdditions, err := additionsNonEmpty(delta)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"removed_files": len(delta.RemovedFiles),
		"removed_dirs":  len(delta.RemovedDirs),
		"has_additions": hasAdditions,
	}).Info("diffed merged trees")

	if err := sizeguard.CheckLayerCeiling(k, len(delta.RemovedFiles) > 0, len(delta.RemovedDirs) > 0, hasAdditions, opts.maxLayers()); err != nil {
		return nil, err
	}

	pkgResult, err := packager.Package(delta, filepath.Join(opts.OutDir, "files.tar"))
	if err != nil {
		return nil, err
	}

	originalSize, err := sumTailSizes(updateArchiveRoot, updateTail)
	if err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	sizeReport, err := sizeguard.Evaluate(originalSize, pkgResult.Size, pkgResult.Digest, opts.AcceptBigger)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"original": sizeReport.HumanOriginal(),
		"delta":    sizeReport.HumanDelta(),
	}).Info("size guard evaluated")

	r := recipe.Synthesize(opts.BaseRef, delta.RemovedFiles, delta.RemovedDirs, !pkgResult.Empty, baseConfig.History, updateConfig.History)

	if err := os.WriteFile(filepath.Join(opts.OutDir, "Dockerfile"), []byte(r.String()), 0644); err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	if err := relocateAdditions(additionsRoot, filepath.Join(opts.OutDir, "files")); err != nil {
		return nil, errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}

	if !opts.KeepWorkDir {
		_ = os.RemoveAll(opts.WorkDir)
	}

	return &Result{
		Recipe:           r,
		SizeReport:       sizeReport,
		SharedLayers:     k,
		RemovedFiles:     delta.RemovedFiles,
		RemovedDirs:      delta.RemovedDirs,
		AdditionsPresent: !pkgResult.Empty,
		OutDir:           opts.OutDir,
	}, nil
}

func prepareOutDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	if err != nil {
		return errors.Wrap(deltaerr.ErrExtractionFailed, err.Error())
	}
	if !info.IsDir() {
		return errors.Errorf("output path %q is not a directory", dir)
	}
	return nil
}

func additionsNonEmpty(d *treediff.Delta) (bool, error) {
	empty, err := d.Empty()
	if err != nil {
		return false, err
	}
	return !empty, nil
}

func sumTailSizes(archiveRoot string, layerPaths []string) (int64, error) {
	sizes := make([]int64, len(layerPaths))
	for i, rel := range layerPaths {
		info, err := os.Stat(filepath.Join(archiveRoot, rel))
		if err != nil {
			return 0, err
		}
		sizes[i] = info.Size()
	}
	return sizeguard.SumSizes(sizes), nil
}

// relocateAdditions moves the staged additions tree into its final
// output location. A rename is attempted first; if workdir and outdir
// are on different filesystems it falls back to a full copy.
func relocateAdditions(from, to string) error {
	_ = os.RemoveAll(to)
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	return copyDir(from, to)
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		info, err := os.Lstat(srcPath)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(srcPath)
			if err != nil {
				return err
			}
			if err := os.Symlink(target, dstPath); err != nil {
				return err
			}
		case info.IsDir():
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath, info.Mode()); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.ReadFrom(in)
	return err
}
