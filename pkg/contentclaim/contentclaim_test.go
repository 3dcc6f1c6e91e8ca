package contentclaim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrementDecrementTracksCount(t *testing.T) {
	m := NewManager()
	c := m.NewClaim("container-1", "section-1", "id-1", false)

	assert.EqualValues(t, 0, m.Count(c))

	assert.EqualValues(t, 1, m.Increment(c))
	assert.EqualValues(t, 2, m.Increment(c))
	assert.EqualValues(t, 2, m.Count(c))

	residual, err := m.Decrement(c)
	require.NoError(t, err)
	assert.EqualValues(t, 1, residual)
}

func TestDecrementUnknownClaimErrors(t *testing.T) {
	m := NewManager()
	c := m.NewClaim("container-1", "section-1", "unknown", false)

	_, err := m.Decrement(c)
	assert.Error(t, err)
}

func TestDecrementBelowZeroErrors(t *testing.T) {
	m := NewManager()
	c := m.NewClaim("container-1", "section-1", "id-1", false)

	m.Increment(c)
	_, err := m.Decrement(c)
	require.NoError(t, err)

	_, err = m.Decrement(c)
	assert.Error(t, err)
}

func TestDistinctClaimsTrackedIndependently(t *testing.T) {
	m := NewManager()
	a := m.NewClaim("container-1", "section-1", "a", false)
	b := m.NewClaim("container-1", "section-1", "b", false)

	m.Increment(a)
	m.Increment(a)
	m.Increment(b)

	assert.EqualValues(t, 2, m.Count(a))
	assert.EqualValues(t, 1, m.Count(b))
}
