package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"pos-ledger/models"
	"pos-ledger/staking"
)

var proposerDomain = []byte("proposer")

// SelectProposer picks the block proposer with probability proportional to
// weight (self plus delegated stake). The draw is seeded from (previous hash, height, round), so every
// node holding the same validator set picks the same proposer. Validators are
// laid out in id order; round moves the draw after a failed commit.
func SelectProposer(set *staking.Snapshot, height uint64, previous models.Hash, round uint64) (*models.Validator, error) {
	if set == nil || len(set.Validators) == 0 || set.TotalStaked.IsZero() {
		return nil, ErrNoActiveValidators
	}

	target := new(uint256.Int).Mod(proposerSeed(height, previous, round), set.TotalStaked)

	// walk the cumulative weights until the draw falls inside a validator's range
	cumulative := new(uint256.Int)
	for _, v := range set.Validators {
		cumulative.Add(cumulative, v.Weight())
		if target.Lt(cumulative) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: draw %s outside total %s", staking.ErrInvariant, target.Dec(), set.TotalStaked.Dec())
}

func proposerSeed(height uint64, previous models.Hash, round uint64) *uint256.Int {
	var buf [8]byte
	h := sha256.New()
	h.Write(proposerDomain)
	h.Write(previous[:])
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], round)
	h.Write(buf[:])
	return new(uint256.Int).SetBytes(h.Sum(nil))
}
