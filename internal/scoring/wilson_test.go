package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWilsonLowerBound(t *testing.T) {
	const z = 1.96

	t.Run("below raw proportion", func(t *testing.T) {
		w := wilsonLowerBound(0.8, 20, z)
		assert.Less(t, w, 0.8)
		assert.Greater(t, w, 0.0)
	})

	t.Run("larger samples tighten toward p", func(t *testing.T) {
		small := wilsonLowerBound(0.8, 10, z)
		large := wilsonLowerBound(0.8, 1000, z)
		assert.Greater(t, large, small)
		assert.InDelta(t, 0.8, large, 0.03)
	})

	t.Run("clamped to unit interval", func(t *testing.T) {
		assert.GreaterOrEqual(t, wilsonLowerBound(0, 5, z), 0.0)
		assert.LessOrEqual(t, wilsonLowerBound(1, 5, z), 1.0)
		assert.LessOrEqual(t, wilsonLowerBound(1.5, 5, z), 1.0)
	})

	t.Run("zero sample size", func(t *testing.T) {
		assert.Equal(t, 0.0, wilsonLowerBound(0.9, 0, z))
	})

	t.Run("monotone in p at fixed n", func(t *testing.T) {
		lo := wilsonLowerBound(0.3, 50, z)
		hi := wilsonLowerBound(0.7, 50, z)
		assert.Greater(t, hi, lo)
	})
}
