// Package treediff recursively compares two merged filesystem trees and
// produces a Delta: the additions/modifications tree and the removed
// file/directory path lists (spec.md §4.4).
package treediff

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Delta is the additions tree plus the removal lists, with deletion
// paths normalized to be absolute inside the target rootfs (the
// additions-tree root prefix stripped).
type Delta struct {
	AdditionsRoot string
	RemovedFiles  []string
	RemovedDirs   []string
}

// Empty reports whether the additions tree has no entries at all.
func (d *Delta) Empty() (bool, error) {
	entries, err := os.ReadDir(d.AdditionsRoot)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// kind classifies a filesystem entry for diff purposes.
type kind int

const (
	kindFile kind = iota
	kindDir
	kindSymlink
)

// Diff recursively compares baseRoot and updateRoot and materializes the
// additions/modifications into outRoot (created if absent), returning
// the accumulated Delta.
func Diff(baseRoot, updateRoot, outRoot string) (*Delta, error) {
	if err := os.MkdirAll(outRoot, 0755); err != nil {
		return nil, err
	}
	d := &Delta{AdditionsRoot: outRoot}
	if err := diffDir(baseRoot, updateRoot, outRoot, "/", d); err != nil {
		return nil, err
	}
	return d, nil
}

// diffDir implements the per-directory algorithm of spec.md §4.4,
// processing entries in sorted order for deterministic output.
func diffDir(baseDir, updateDir, outDir, relPath string, d *Delta) error {
	baseEntries, err := readDirOrEmpty(baseDir)
	if err != nil {
		return err
	}
	updateEntries, err := readDirOrEmpty(updateDir)
	if err != nil {
		return err
	}

	baseByName := make(map[string]os.DirEntry, len(baseEntries))
	for _, e := range baseEntries {
		baseByName[e.Name()] = e
	}
	updateByName := make(map[string]os.DirEntry, len(updateEntries))
	for _, e := range updateEntries {
		updateByName[e.Name()] = e
	}

	for _, name := range sortedNames(baseEntries, updateEntries) {
		be, inBase := baseByName[name]
		ue, inUpdate := updateByName[name]

		childRel := joinRel(relPath, name)
		basePath := filepath.Join(baseDir, name)
		updatePath := filepath.Join(updateDir, name)
		outPath := filepath.Join(outDir, name)

		switch {
		case inUpdate && !inBase:
			if err := materializeFull(updatePath, outPath); err != nil {
				return err
			}

		case inBase && !inUpdate:
			recordRemoval(d, childRel, direntKind(be))
			// No recursion: the parent deletion covers all descendants.

		default:
			baseKind := direntKind(be)
			updateKind := direntKind(ue)

			if baseKind == updateKind {
				switch baseKind {
				case kindDir:
					if err := diffDir(basePath, updatePath, outPath, childRel, d); err != nil {
						return err
					}
				case kindSymlink:
					same, err := symlinksEqual(basePath, updatePath)
					if err != nil {
						return err
					}
					if !same {
						if err := materializeSymlink(updatePath, outPath); err != nil {
							return err
						}
					}
				default:
					same, err := filesEqual(basePath, updatePath)
					if err != nil {
						return err
					}
					if !same {
						if err := materializeFile(updatePath, outPath); err != nil {
							return err
						}
					}
				}
				continue
			}

			// Funny entry: kinds disagree. The base side is recorded as
			// removed unless it's a symlink, in which case the addition
			// naturally overwrites it with no explicit delete needed
			// (spec.md §4.4 step 5, §9 "Funny-entry policy").
			if baseKind != kindSymlink {
				recordRemoval(d, childRel, baseKind)
			}
			if err := materializeFull(updatePath, outPath); err != nil {
				return err
			}
		}
	}

	return nil
}

func recordRemoval(d *Delta, path string, k kind) {
	if k == kindDir {
		d.RemovedDirs = append(d.RemovedDirs, path)
	} else {
		d.RemovedFiles = append(d.RemovedFiles, path)
	}
}

func direntKind(e os.DirEntry) kind {
	switch {
	case e.IsDir():
		return kindDir
	case e.Type()&os.ModeSymlink != 0:
		return kindSymlink
	default:
		return kindFile
	}
}

func readDirOrEmpty(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return entries, nil
}

// sortedNames returns the sorted union of both entry lists' names.
func sortedNames(a, b []os.DirEntry) []string {
	seen := make(map[string]bool, len(a)+len(b))
	names := make([]string, 0, len(a)+len(b))
	for _, e := range a {
		if !seen[e.Name()] {
			seen[e.Name()] = true
			names = append(names, e.Name())
		}
	}
	for _, e := range b {
		if !seen[e.Name()] {
			seen[e.Name()] = true
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func joinRel(relPath, name string) string {
	if relPath == "/" {
		return "/" + name
	}
	return relPath + "/" + name
}

func symlinksEqual(a, b string) (bool, error) {
	ta, err := os.Readlink(a)
	if err != nil {
		return false, err
	}
	tb, err := os.Readlink(b)
	if err != nil {
		return false, err
	}
	return ta == tb, nil
}

// filesEqual compares two regular files byte-for-byte (spec.md §4.4
// step 4: "full content, not stat-based").
func filesEqual(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	const chunkSize = 64 * 1024
	ra := bufio.NewReader(fa)
	rb := bufio.NewReader(fb)
	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)

	for {
		na, erra := io.ReadFull(ra, bufA)
		nb, errb := io.ReadFull(rb, bufB)

		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}

		aDone := erra == io.EOF || erra == io.ErrUnexpectedEOF
		bDone := errb == io.EOF || errb == io.ErrUnexpectedEOF
		if aDone != bDone {
			return false, nil
		}
		if aDone {
			return true, nil
		}
		if erra != nil {
			return false, erra
		}
		if errb != nil {
			return false, errb
		}
	}
}
