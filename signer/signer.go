// Package signer holds the node's post-quantum block signing keys.
//
// Keys are ML-DSA (the standardised Dilithium family) from circl. A secret key
// lives only inside a Signer: it is never exported, logged or written to the
// ledger. Only the public key leaves the signer, embedded in blocks and
// validator records.
package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/schemes"
)

// DefaultScheme is used when no scheme is configured.
const DefaultScheme = "ML-DSA-65"

var (
	ErrUnknownScheme   = errors.New("unknown signature scheme")
	ErrNotPostQuantum  = errors.New("signature scheme is not post-quantum")
	ErrInvalidSeedSize = errors.New("invalid key seed size")
)

// lattice-based schemes accepted for block signing
var postQuantum = map[string]bool{
	"ml-dsa-44":  true,
	"ml-dsa-65":  true,
	"ml-dsa-87":  true,
	"dilithium2": true,
	"dilithium3": true,
	"dilithium5": true,
}

// SchemeByName resolves a post-quantum scheme. An empty name selects
// DefaultScheme.
func SchemeByName(name string) (sign.Scheme, error) {
	if name == "" || strings.EqualFold(name, DefaultScheme) {
		return mldsa65.Scheme(), nil
	}
	scheme := schemes.ByName(name)
	if scheme == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, name)
	}
	if !postQuantum[strings.ToLower(scheme.Name())] {
		return nil, fmt.Errorf("%w: %s", ErrNotPostQuantum, scheme.Name())
	}
	return scheme, nil
}

// Verifier checks signatures for one scheme. It holds no key material.
type Verifier struct {
	scheme sign.Scheme
}

func NewVerifier(schemeName string) (*Verifier, error) {
	scheme, err := SchemeByName(schemeName)
	if err != nil {
		return nil, err
	}
	return &Verifier{scheme: scheme}, nil
}

// Scheme names the signature scheme.
func (v *Verifier) Scheme() string {
	return v.scheme.Name()
}

// Verify reports whether sig is a valid signature of msg by pub. Malformed
// keys or signatures verify as false.
func (v *Verifier) Verify(msg, sig, pub []byte) bool {
	if len(sig) != v.scheme.SignatureSize() {
		return false
	}
	pk, err := v.scheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return false
	}
	return v.scheme.Verify(pk, msg, sig, nil)
}

// Signer owns one keypair.
type Signer struct {
	Verifier
	priv sign.PrivateKey
	pub  []byte
}

// Generate creates a fresh keypair from the system random source.
func Generate(schemeName string) (*Signer, error) {
	scheme, err := SchemeByName(schemeName)
	if err != nil {
		return nil, err
	}
	pk, sk, err := scheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", scheme.Name(), err)
	}
	return newSigner(scheme, pk, sk)
}

// FromSeed derives the keypair deterministically from seed, which must be
// exactly the scheme's seed size.
func FromSeed(schemeName string, seed []byte) (*Signer, error) {
	scheme, err := SchemeByName(schemeName)
	if err != nil {
		return nil, err
	}
	if len(seed) != scheme.SeedSize() {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSeedSize, scheme.SeedSize(), len(seed))
	}
	pk, sk := scheme.DeriveKey(seed)
	return newSigner(scheme, pk, sk)
}

// LoadSeedFile reads a hex encoded seed written by WriteSeedFile.
func LoadSeedFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return seed, nil
}

// WriteSeedFile stores seed hex encoded, readable by the owner only. It
// refuses to overwrite an existing file.
func WriteSeedFile(path string, seed []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(hex.EncodeToString(seed) + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newSigner(scheme sign.Scheme, pk sign.PublicKey, sk sign.PrivateKey) (*Signer, error) {
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Signer{Verifier: Verifier{scheme: scheme}, priv: sk, pub: pub}, nil
}

// Sign signs msg with the secret key.
func (s *Signer) Sign(msg []byte) []byte {
	return s.scheme.Sign(s.priv, msg, nil)
}

// PublicKey returns a copy of the encoded public key.
func (s *Signer) PublicKey() []byte {
	return append([]byte(nil), s.pub...)
}

// String never includes secret material.
func (s *Signer) String() string {
	return fmt.Sprintf("signer(%s, pub=%s)", s.scheme.Name(), Fingerprint(s.pub))
}

// Fingerprint is a short printable id for a public key.
func Fingerprint(pub []byte) string {
	if len(pub) > 8 {
		pub = pub[:8]
	}
	return hex.EncodeToString(pub)
}
