package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte digest, hex encoded in JSON.
type Hash [32]byte

// ZeroHash is the previous hash of the genesis block.
var ZeroHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(h) {
		return fmt.Errorf("hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return nil
}

// TransactionsRoot is the merkle root over transaction hashes, zero for an
// empty list. Odd levels duplicate the last hash.
func TransactionsRoot(txs []*Transaction) Hash {
	if len(txs) == 0 {
		return ZeroHash
	}

	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		hash := tx.Hash()
		hashes[i] = hash[:]
	}

	for len(hashes) > 1 {
		if len(hashes)%2 == 1 {
			hashes = append(hashes, hashes[len(hashes)-1])
		}
		next := make([][]byte, 0, len(hashes)/2)
		for i := 0; i < len(hashes); i += 2 {
			h := sha256.New()
			h.Write(hashes[i])
			h.Write(hashes[i+1])
			next = append(next, h.Sum(nil))
		}
		hashes = next
	}

	var root Hash
	copy(root[:], hashes[0])
	return root
}

// StateRoot is keccak256 over accounts ordered by address. Callers may pass
// accounts in any order.
func StateRoot(accounts map[string]*Account) Hash {
	addrs := make([]string, 0, len(accounts))
	for addr := range accounts {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	h := sha3.NewLegacyKeccak256()
	for _, addr := range addrs {
		acc := accounts[addr]
		writeString(h, addr)
		balance := AmountOrZero(acc.Balance).Bytes32()
		h.Write(balance[:])
		h.Write(uint64ToBytes(acc.Nonce))
	}
	var root Hash
	copy(root[:], h.Sum(nil))
	return root
}
