package teams

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	t.Run("resolves a known code", func(t *testing.T) {
		team, err := Lookup("wsh")
		require.NoError(t, err)
		assert.Equal(t, "Washington Nationals", team.Name)
		assert.Equal(t, 120, team.ID)
	})

	t.Run("is case-insensitive", func(t *testing.T) {
		team, err := Lookup("NYY")
		require.NoError(t, err)
		assert.Equal(t, "New York Yankees", team.Name)
	})

	t.Run("rejects unknown codes", func(t *testing.T) {
		_, err := Lookup("xyz")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown team code")
	})
}

func TestCodes(t *testing.T) {
	codes := Codes()
	assert.Len(t, codes, 30)
	assert.True(t, sort.StringsAreSorted(codes))
	assert.Contains(t, codes, "lad")
}
