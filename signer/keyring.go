package signer

import (
	"sort"
	"sync"
)

// Keyring maps the validator ids this node operates to their signers.
type Keyring struct {
	mu      sync.RWMutex
	signers map[string]*Signer
}

func NewKeyring() *Keyring {
	return &Keyring{signers: make(map[string]*Signer)}
}

// Add registers s as the key of validatorID, replacing any previous key.
func (k *Keyring) Add(validatorID string, s *Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[validatorID] = s
}

func (k *Keyring) Get(validatorID string) (*Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[validatorID]
	return s, ok
}

// IDs lists the local validator ids in order.
func (k *Keyring) IDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.signers))
	for id := range k.signers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
