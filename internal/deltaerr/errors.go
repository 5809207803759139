// Package deltaerr defines the typed error kinds the delta-synthesis
// pipeline can fail with, matching the exit-code table of the core
// contract. Components wrap these with github.com/pkg/errors so a
// caller can recover the kind with errors.Is while still seeing the
// underlying cause in the message.
package deltaerr

import "errors"

var (
	// ErrMalformedArchive means manifest.json or the config JSON referenced
	// by it could not be found or read.
	ErrMalformedArchive = errors.New("malformed image archive")

	// ErrMalformedManifest means manifest.json or the config JSON could
	// not be parsed, or manifest.json has no entry or is missing a
	// required field (Config, Layers).
	ErrMalformedManifest = errors.New("malformed manifest")

	// ErrUnsupportedRootfs means rootfs.type is not "layers".
	ErrUnsupportedRootfs = errors.New("unsupported rootfs type")

	// ErrBaseLargerThanUpdate means the base image has more layers than
	// the update image, so it cannot possibly be a prefix of it.
	ErrBaseLargerThanUpdate = errors.New("base image has more layers than update image")

	// ErrNoCommonAncestor means the two layer lists share no leading
	// prefix at all.
	ErrNoCommonAncestor = errors.New("images share no common layer prefix")

	// ErrExtractionFailed covers tar or filesystem I/O errors encountered
	// while unpacking an archive or merging layers.
	ErrExtractionFailed = errors.New("layer extraction failed")

	// ErrTooManyLayers means the projected final layer count of the
	// synthesized recipe exceeds the configured ceiling.
	ErrTooManyLayers = errors.New("projected layer count exceeds ceiling")

	// ErrDeltaNotSmaller means the additions tarball is larger than the
	// update's original tail payload.
	ErrDeltaNotSmaller = errors.New("delta payload is not smaller than original update payload")
)

// ExitCode maps an error produced by the pipeline to the CLI exit-code
// convention: 0 success, -1 input validation, -2 delta-not-smaller,
// -3 layer ceiling exceeded.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, ErrDeltaNotSmaller):
		return -2
	case errors.Is(err, ErrTooManyLayers):
		return -3
	default:
		return -1
	}
}
