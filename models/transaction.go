package models

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/holiman/uint256"
)

// Transaction moves Amount from Sender to Recipient. Fee must be zero
// network-wide; there is no fee market.
type Transaction struct {
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Amount    *uint256.Int `json:"amount"`
	Fee       uint64       `json:"fee"`
	Nonce     uint64       `json:"nonce"`
}

// Hash is the deterministic identifier of the transaction.
func (tx *Transaction) Hash() Hash {
	h := sha256.New()
	writeString(h, tx.Sender)
	writeString(h, tx.Recipient)
	amount := AmountOrZero(tx.Amount).Bytes32()
	h.Write(amount[:])
	h.Write(uint64ToBytes(tx.Fee))
	h.Write(uint64ToBytes(tx.Nonce))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func uint64ToBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// writeString length-prefixes s so adjacent fields cannot run together.
func writeString(w interface{ Write([]byte) (int, error) }, s string) {
	w.Write(uint64ToBytes(uint64(len(s))))
	w.Write([]byte(s))
}
