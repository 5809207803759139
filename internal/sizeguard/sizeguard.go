// Package sizeguard enforces the two size/layer-count safety checks of
// spec.md §4.7: the delta must not be larger than the update's own tail
// payload, and the synthesized recipe must not exceed a configurable
// layer-count ceiling.
package sizeguard

import (
	"github.com/docker/go-units"
	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
)

// Report summarizes the size comparison for logging and for the CLI's
// human-readable output.
type Report struct {
	OriginalSize int64
	DeltaSize    int64
	Difference   int64

	// DeltaDigest content-addresses the packaged additions tarball; it is
	// the zero digest when the delta carries no additions.
	DeltaDigest digest.Digest
}

// HumanOriginal renders OriginalSize as a human-readable byte count.
func (r Report) HumanOriginal() string { return units.HumanSize(float64(r.OriginalSize)) }

// HumanDelta renders DeltaSize as a human-readable byte count.
func (r Report) HumanDelta() string { return units.HumanSize(float64(r.DeltaSize)) }

// SumSizes adds up a set of layer tarball sizes (used for "the original
// update payload size" input of §4.7).
func SumSizes(sizes []int64) int64 {
	var total int64
	for _, s := range sizes {
		total += s
	}
	return total
}

// Evaluate compares the additions tarball size against the original
// update tail payload size. It fails with ErrDeltaNotSmaller when the
// delta is strictly larger and the caller has not opted into accepting
// the degenerate case. deltaDigest is carried through onto the report
// unchanged (the zero digest if the delta has no additions).
func Evaluate(originalSize, deltaSize int64, deltaDigest digest.Digest, acceptBigger bool) (Report, error) {
	report := Report{
		OriginalSize: originalSize,
		DeltaSize:    deltaSize,
		Difference:   originalSize - deltaSize,
		DeltaDigest:  deltaDigest,
	}

	if deltaSize > originalSize && !acceptBigger {
		return report, errors.Wrapf(deltaerr.ErrDeltaNotSmaller,
			"delta is %s, original update payload is %s", report.HumanDelta(), report.HumanOriginal())
	}

	return report, nil
}

// CheckLayerCeiling fails with ErrTooManyLayers if the projected final
// layer count of the synthesized recipe would exceed maxLayers. This
// must run before the additions tarball is packaged (spec.md §4.7).
func CheckLayerCeiling(sharedPrefixLen int, hasFileDeletions, hasDirDeletions, hasAdditions bool, maxLayers int) error {
	projected := sharedPrefixLen + 1
	if hasFileDeletions {
		projected++
	}
	if hasDirDeletions {
		projected++
	}
	if hasAdditions {
		projected++
	}

	if projected > maxLayers {
		return errors.Wrapf(deltaerr.ErrTooManyLayers, "projected %d layers, ceiling is %d", projected, maxLayers)
	}
	return nil
}
