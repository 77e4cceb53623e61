package models

import (
	"github.com/holiman/uint256"
)

// Validator is a staking participant eligible to propose blocks once it has
// a registered public key.
type Validator struct {
	ID             string                  `json:"id"`
	Address        string                  `json:"address"`
	Stake          *uint256.Int            `json:"stake"` // self stake
	Delegated      *uint256.Int            `json:"delegated,omitempty"`
	Delegations    map[string]*uint256.Int `json:"delegations,omitempty"` // delegator -> amount
	Mobile         bool                    `json:"mobile"`
	PublicKey      []byte                  `json:"public_key,omitempty"`
	BlocksProposed uint64                  `json:"blocks_proposed"`
}

// Weight is self stake plus delegated stake, the validator's share of
// total_staked.
func (v *Validator) Weight() *uint256.Int {
	return new(uint256.Int).Add(AmountOrZero(v.Stake), AmountOrZero(v.Delegated))
}

// CanPropose reports whether blocks signed for this validator can be verified.
func (v *Validator) CanPropose() bool {
	return len(v.PublicKey) > 0
}

// Clone returns a deep copy.
func (v *Validator) Clone() *Validator {
	c := *v
	c.Stake = AmountOrZero(v.Stake).Clone()
	if v.Delegated != nil {
		c.Delegated = v.Delegated.Clone()
	}
	if v.Delegations != nil {
		c.Delegations = make(map[string]*uint256.Int, len(v.Delegations))
		for delegator, amount := range v.Delegations {
			c.Delegations[delegator] = amount.Clone()
		}
	}
	if v.PublicKey != nil {
		c.PublicKey = append([]byte(nil), v.PublicKey...)
	}
	return &c
}
