package simulation

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestTreeDepth(t *testing.T) {
	require.Equal(t, 0, treeDepth(1))
	require.Equal(t, 2, treeDepth(4))
	require.Equal(t, 3, treeDepth(5))
	require.Equal(t, 3, treeDepth(8))
}

// A client that cannot produce its proofs is absent from the round, not fatal
// to it. With no predicates registered every pipeline fails, and the round
// still completes with an empty verified set.
func TestRoundSurvivesClientPipelineFailures(t *testing.T) {
	net := NewNetwork(zerolog.Nop(), Params{
		Round:       1,
		NumClients:  2,
		DatasetSize: 4,
		Dim:         2,
		BatchSize:   2,
		TauSquared:  1 << 60,
	})

	// Setup deliberately skipped: proving fails for every client.
	sum, included, err := net.RunRound(Scenario{})
	require.NoError(t, err)
	require.Nil(t, sum)
	require.Empty(t, included)
}
