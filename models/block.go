package models

import (
	"crypto/sha256"
)

// GenesisProposer is the proposer id recorded on the genesis block.
const GenesisProposer = "genesis"

// signingDomain separates block signatures from any other signed payload.
var signingDomain = []byte("pos-ledger/block/v1")

// Block is an immutable, append-only unit of the chain.
type Block struct {
	Height            uint64         `json:"height"`
	PreviousHash      Hash           `json:"previous_hash"`
	Timestamp         int64          `json:"timestamp"` // unix timestamp in ms
	ProposerID        string         `json:"proposer_id"`
	ProposerPublicKey []byte         `json:"proposer_public_key,omitempty"`
	TxRoot            Hash           `json:"tx_root"`
	StateRoot         Hash           `json:"state_root"`
	Transactions      []*Transaction `json:"transactions"`
	Signature         []byte         `json:"signature,omitempty"`
}

// NewGenesisBlock returns the height 0 block over the genesis state root.
func NewGenesisBlock(stateRoot Hash, timestamp int64) *Block {
	return &Block{
		Height:       0,
		PreviousHash: ZeroHash,
		Timestamp:    timestamp,
		ProposerID:   GenesisProposer,
		TxRoot:       ZeroHash,
		StateRoot:    stateRoot,
		Transactions: []*Transaction{},
	}
}

// Hash covers every header field and the signature.
func (b *Block) Hash() Hash {
	h := sha256.New()
	h.Write(uint64ToBytes(b.Height))
	h.Write(b.PreviousHash[:])
	h.Write(uint64ToBytes(uint64(b.Timestamp)))
	writeString(h, b.ProposerID)
	writeString(h, string(b.ProposerPublicKey))
	h.Write(b.TxRoot[:])
	h.Write(b.StateRoot[:])
	writeString(h, string(b.Signature))
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SigningBytes is the message a proposer signs for a block.
func (b *Block) SigningBytes() []byte {
	return SigningBytes(b.Height, b.PreviousHash, b.TxRoot, b.StateRoot)
}

// SigningBytes encodes (height, previous hash, transaction set hash, state hash).
func SigningBytes(height uint64, previous, txRoot, stateRoot Hash) []byte {
	msg := make([]byte, 0, len(signingDomain)+8+3*len(previous))
	msg = append(msg, signingDomain...)
	msg = append(msg, uint64ToBytes(height)...)
	msg = append(msg, previous[:]...)
	msg = append(msg, txRoot[:]...)
	msg = append(msg, stateRoot[:]...)
	return msg
}
