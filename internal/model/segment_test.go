package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateWindow(t *testing.T) {
	require.NoError(t, ValidateWindow(0, 0))
	require.NoError(t, ValidateWindow(0, 10))
	require.NoError(t, ValidateWindow(2.5, 3))

	for _, w := range [][2]float64{
		{-1, 5},
		{5, 5},
		{6, 5},
		{math.NaN(), 5},
		{0, math.NaN()},
		{math.NaN(), math.NaN()},
		{0, math.Inf(1)},
		{math.Inf(-1), 5},
		{math.Inf(1), math.Inf(1)},
	} {
		require.Error(t, ValidateWindow(w[0], w[1]), "window %v", w)
	}
}

func TestCanTransition(t *testing.T) {
	require.True(t, StatusQueued.CanTransition(StatusTranscribing))
	require.True(t, StatusTranscribing.CanTransition(StatusComplete))
	require.True(t, StatusTranscribing.CanTransition(StatusError))
	require.True(t, StatusError.CanTransition(StatusTranscribing))
	require.False(t, StatusComplete.CanTransition(StatusTranscribing))
	require.False(t, StatusError.CanTransition(StatusComplete))
}
