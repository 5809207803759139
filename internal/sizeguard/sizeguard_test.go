package sizeguard

import (
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brauner/go-docker-melt/internal/deltaerr"
)

const testDigest = digest.Digest("sha256:3fce1c2ff17a5c492deeb7bbae5ddef4c392b1d4f2d87dc39b4e1b1b86d5f4d0")

func TestSumSizes(t *testing.T) {
	assert.Equal(t, int64(300), SumSizes([]int64{100, 200}))
}

func TestEvaluateSmallerDeltaPasses(t *testing.T) {
	report, err := Evaluate(1000, 400, testDigest, false)
	require.NoError(t, err)
	assert.Equal(t, int64(600), report.Difference)
	assert.Equal(t, testDigest, report.DeltaDigest)
}

func TestEvaluateBiggerDeltaFailsByDefault(t *testing.T) {
	_, err := Evaluate(1000, 2000, testDigest, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, deltaerr.ErrDeltaNotSmaller)
}

func TestEvaluateBiggerDeltaAcceptedWhenOptedIn(t *testing.T) {
	report, err := Evaluate(1000, 2000, testDigest, true)
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), report.Difference)
}

func TestCheckLayerCeilingWithinBounds(t *testing.T) {
	err := CheckLayerCeiling(3, true, false, true, 128)
	require.NoError(t, err)
}

func TestCheckLayerCeilingExceeded(t *testing.T) {
	// k=2, file deletion + dir deletion + additions => 2+1+1+1+1 = 6
	err := CheckLayerCeiling(2, true, true, true, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, deltaerr.ErrTooManyLayers)
}
