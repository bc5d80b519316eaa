package merkle_test

import (
	"fmt"
	"testing"

	"github.com/near/borsh-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/doublezero-rewards/internal/merkle"
)

func testRewards(n int) []merkle.RewardDetail {
	rewards := make([]merkle.RewardDetail, 0, n)
	for i := 0; i < n; i++ {
		rewards = append(rewards, merkle.RewardDetail{
			Operator:   fmt.Sprintf("operator-%02d", i),
			Value:      float64(i+1) * 100,
			Proportion: 1.0 / float64(n),
		})
	}
	return rewards
}

func TestMerkle_ProofRoundTrip(t *testing.T) {
	t.Parallel()

	// Odd and even tree sizes exercise unpaired node promotion.
	for _, n := range []int{1, 2, 3, 5, 8} {
		t.Run(fmt.Sprintf("%d leaves", n), func(t *testing.T) {
			t.Parallel()

			tree, err := merkle.NewTree(100, testRewards(n))
			require.NoError(t, err)
			root := tree.Root()

			for i := 0; i < n; i++ {
				proof, err := tree.GenerateProof(i)
				require.NoError(t, err)

				reward, err := tree.Reward(i)
				require.NoError(t, err)

				ok, err := merkle.VerifyReward(reward, proof, root)
				require.NoError(t, err)
				assert.True(t, ok, "leaf %d of %d", i, n)
			}
		})
	}
}

func TestMerkle_TamperedLeafFails(t *testing.T) {
	t.Parallel()

	tree, err := merkle.NewTree(100, testRewards(4))
	require.NoError(t, err)
	root := tree.Root()

	proof, err := tree.GenerateProof(1)
	require.NoError(t, err)
	reward, err := tree.Reward(1)
	require.NoError(t, err)

	reward.Value += 1
	ok, err := merkle.VerifyReward(reward, proof, root)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMerkle_ByteFlipFails(t *testing.T) {
	t.Parallel()

	tree, err := merkle.NewTree(100, testRewards(4))
	require.NoError(t, err)
	root := tree.Root()

	proof, err := tree.GenerateProof(2)
	require.NoError(t, err)
	reward, err := tree.Reward(2)
	require.NoError(t, err)

	encoded, err := borsh.Serialize(reward)
	require.NoError(t, err)
	encoded[0] ^= 0xFF
	assert.False(t, merkle.Verify(encoded, proof, root))
}

func TestMerkle_WrongPositionFails(t *testing.T) {
	t.Parallel()

	tree, err := merkle.NewTree(100, testRewards(4))
	require.NoError(t, err)
	root := tree.Root()

	proof, err := tree.GenerateProof(0)
	require.NoError(t, err)
	reward, err := tree.Reward(1)
	require.NoError(t, err)

	// A valid proof for leaf 0 cannot vouch for leaf 1's payload.
	ok, err := merkle.VerifyReward(reward, proof, root)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMerkle_IndexOutOfRange(t *testing.T) {
	t.Parallel()

	tree, err := merkle.NewTree(100, testRewards(3))
	require.NoError(t, err)

	_, err = tree.GenerateProof(3)
	require.ErrorIs(t, err, merkle.ErrProofIndexOutOfRange)
	_, err = tree.GenerateProof(-1)
	require.ErrorIs(t, err, merkle.ErrProofIndexOutOfRange)
	_, err = tree.Reward(3)
	require.ErrorIs(t, err, merkle.ErrProofIndexOutOfRange)
}

func TestMerkle_DeterministicAcrossInputOrder(t *testing.T) {
	t.Parallel()

	rewards := testRewards(5)
	shuffled := []merkle.RewardDetail{rewards[3], rewards[0], rewards[4], rewards[2], rewards[1]}

	a, err := merkle.NewTree(100, rewards)
	require.NoError(t, err)
	b, err := merkle.NewTree(100, shuffled)
	require.NoError(t, err)

	assert.Equal(t, a.Root(), b.Root())
	assert.Equal(t, a.Rewards(), b.Rewards())
}

func TestMerkle_EmptyRewards(t *testing.T) {
	t.Parallel()

	_, err := merkle.NewTree(100, nil)
	require.Error(t, err)
}
