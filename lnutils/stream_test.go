package lnutils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	lengths := Map([]string{"a", "bb", ""}, func(s string) int {
		return len(s)
	})
	require.Equal(t, []int{1, 2, 0}, lengths)

	require.Empty(t, Map(nil, func(s string) int {
		return len(s)
	}))
}
