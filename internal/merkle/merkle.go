// Package merkle commits an epoch's contributor rewards to a merkle root
// that is posted on chain, with per-contributor inclusion proofs.
package merkle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/near/borsh-go"
)

// leafPrefix domain-separates reward leaves from any other tree using the
// same hash construction.
var leafPrefix = []byte("dz_contributor_rewards")

// Domain tags keep leaf hashes distinct from interior node hashes, so an
// interior node can never be replayed as a leaf.
const (
	leafTag = 0x00
	nodeTag = 0x01
)

var ErrProofIndexOutOfRange = errors.New("proof index out of range")

// RewardDetail is the Borsh-encoded leaf payload. Value is the absolute
// reward and Proportion the contributor's share of the epoch total.
type RewardDetail struct {
	Operator   string
	Value      float64
	Proportion float64
}

// Proof holds the sibling hashes from a leaf to the root. LeafIndex and
// TreeSize fix the leaf's position, and with it the left/right orientation
// at every level, including levels where an unpaired node was promoted.
type Proof struct {
	Siblings  [][32]byte
	LeafIndex int
	TreeSize  int
}

// Tree is an immutable merkle tree over one epoch's rewards. Rewards are
// ordered by operator so the same reward set always yields the same root.
type Tree struct {
	epoch   uint64
	rewards []RewardDetail
	leaves  [][]byte
}

func NewTree(epoch uint64, rewards []RewardDetail) (*Tree, error) {
	if len(rewards) == 0 {
		return nil, fmt.Errorf("epoch %d: no rewards to commit", epoch)
	}

	ordered := append([]RewardDetail(nil), rewards...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Operator < ordered[j].Operator })

	leaves := make([][]byte, len(ordered))
	for i, reward := range ordered {
		encoded, err := borsh.Serialize(reward)
		if err != nil {
			return nil, fmt.Errorf("serialize reward for %s: %w", reward.Operator, err)
		}
		leaves[i] = encoded
	}

	return &Tree{epoch: epoch, rewards: ordered, leaves: leaves}, nil
}

func (t *Tree) Epoch() uint64 { return t.epoch }

func (t *Tree) Len() int { return len(t.rewards) }

// Rewards returns the committed rewards in leaf order.
func (t *Tree) Rewards() []RewardDetail {
	return append([]RewardDetail(nil), t.rewards...)
}

// Reward returns the leaf payload at the given index.
func (t *Tree) Reward(index int) (RewardDetail, error) {
	if index < 0 || index >= len(t.rewards) {
		return RewardDetail{}, fmt.Errorf("index %d of %d rewards: %w", index, len(t.rewards), ErrProofIndexOutOfRange)
	}
	return t.rewards[index], nil
}

// Root computes the tree's merkle root.
func (t *Tree) Root() [32]byte {
	level := t.leafHashes()
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// GenerateProof returns the inclusion proof for the leaf at the given index.
func (t *Tree) GenerateProof(index int) (*Proof, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("index %d of %d leaves: %w", index, len(t.leaves), ErrProofIndexOutOfRange)
	}

	proof := &Proof{LeafIndex: index, TreeSize: len(t.leaves)}
	level := t.leafHashes()
	pos := index
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling < len(level) {
			proof.Siblings = append(proof.Siblings, level[sibling])
		}
		level = nextLevel(level)
		pos /= 2
	}
	return proof, nil
}

// Verify checks that the Borsh-encoded leaf is committed under the root.
func Verify(leafBytes []byte, proof *Proof, root [32]byte) bool {
	if proof.LeafIndex < 0 || proof.LeafIndex >= proof.TreeSize {
		return false
	}

	hash := leafHash(leafBytes)
	pos := proof.LeafIndex
	size := proof.TreeSize
	next := 0
	for size > 1 {
		if pos^1 < size {
			// Paired at this level, consume one sibling hash.
			if next >= len(proof.Siblings) {
				return false
			}
			sibling := proof.Siblings[next]
			next++
			if pos%2 == 0 {
				hash = nodeHash(hash, sibling)
			} else {
				hash = nodeHash(sibling, hash)
			}
		}
		pos /= 2
		size = (size + 1) / 2
	}
	return next == len(proof.Siblings) && hash == root
}

// VerifyReward is the caller-facing check: encode the claimed reward and
// verify it against the posted root.
func VerifyReward(reward RewardDetail, proof *Proof, root [32]byte) (bool, error) {
	encoded, err := borsh.Serialize(reward)
	if err != nil {
		return false, fmt.Errorf("serialize reward for %s: %w", reward.Operator, err)
	}
	return Verify(encoded, proof, root), nil
}

func (t *Tree) leafHashes() [][32]byte {
	hashes := make([][32]byte, len(t.leaves))
	for i, leaf := range t.leaves {
		hashes[i] = leafHash(leaf)
	}
	return hashes
}

// nextLevel pairs adjacent hashes; an unpaired last node is promoted as-is
// rather than hashed with itself.
func nextLevel(level [][32]byte) [][32]byte {
	next := make([][32]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, nodeHash(level[i], level[i+1]))
		} else {
			next = append(next, level[i])
		}
	}
	return next
}

func leafHash(leaf []byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{leafTag})
	h.Write(leafPrefix)
	h.Write(leaf)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func nodeHash(left, right [32]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte{nodeTag})
	h.Write(left[:])
	h.Write(right[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
