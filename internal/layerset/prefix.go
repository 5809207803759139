// Package layerset computes the longest common prefix of two ordered
// layer-identifier lists and the resulting non-shared tails (spec.md
// §4.3).
package layerset

import (
	"github.com/pkg/errors"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
)

// CommonPrefix computes k = max i such that base[0:i] == update[0:i] by
// exact string equality, and returns k along with the two tails
// base[k:], update[k:]. It fails if base has more layers than update, or
// if the images share no common prefix at all.
func CommonPrefix(base, update []string) (k int, baseTail, updateTail []string, err error) {
	if len(base) > len(update) {
		return 0, nil, nil, errors.Wrapf(deltaerr.ErrBaseLargerThanUpdate,
			"base has %d layers, update has %d", len(base), len(update))
	}

	for k = 0; k < len(base); k++ {
		if base[k] != update[k] {
			break
		}
	}

	if k == 0 {
		return 0, nil, nil, deltaerr.ErrNoCommonAncestor
	}

	return k, base[k:], update[k:], nil
}
