package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasses(t *testing.T) {
	cases := []struct {
		score, max int
		want       bool
	}{
		{10, 10, true},
		{5, 10, true},
		{4, 10, false},
		{0, 10, false},
		{1, 2, true},
		{0, 0, false},
		{3, 0, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, passes(tc.score, tc.max), "score=%d max=%d", tc.score, tc.max)
	}
}
