// Package keyring derives the seller's signing key and payout destinations
// from fixed seed material.
package keyring

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/tjfontaine/bargain-gateway/internal/codec"
	"github.com/tjfontaine/bargain-gateway/internal/domain"
)

// SignatureType identifies the scheme used on seller messages.
const SignatureType = "ed25519-sha256"

var (
	ErrEmptySeed        = errors.New("keyring: empty seed")
	ErrMissingSignature = errors.New("keyring: message is not signed")
)

// Keyring holds the seller keys. It is read-only after Derive.
type Keyring struct {
	signKey ed25519.PrivateKey
	scripts [2][]byte
}

// Derive expands seed into a signing key and two destination scripts. The
// network salts the derivation so test and main networks never share keys.
func Derive(seed []byte, network string) (*Keyring, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	prk := hkdf.Extract(sha256.New, seed, []byte(network))

	signSeed, err := expand(prk, "bargain seller signing key", ed25519.SeedSize)
	if err != nil {
		return nil, err
	}

	k := &Keyring{signKey: ed25519.NewKeyFromSeed(signSeed)}
	for i := range k.scripts {
		hash, err := expand(prk, fmt.Sprintf("bargain seller output %d", i+1), 20)
		if err != nil {
			return nil, err
		}
		k.scripts[i] = payToHash(hash)
	}
	return k, nil
}

func expand(prk []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("keyring: expand %q: %w", info, err)
	}
	return out, nil
}

// payToHash builds an OP_DUP OP_HASH160 <hash> OP_EQUALVERIFY OP_CHECKSIG script.
func payToHash(hash []byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, byte(len(hash)))
	script = append(script, hash...)
	return append(script, 0x88, 0xac)
}

// Scripts returns copies of the two destination scripts.
func (k *Keyring) Scripts() [2][]byte {
	var out [2][]byte
	for i, s := range k.scripts {
		out[i] = append([]byte(nil), s...)
	}
	return out
}

// PublicKey returns the seller's verification key.
func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.signKey.Public().(ed25519.PublicKey)
}

// Sign returns msg signed over its content and the wire form of prev.
func (k *Keyring) Sign(msg, prev domain.Message) (domain.Message, error) {
	payload, err := codec.SigningBytes(msg, prev)
	if err != nil {
		return domain.Message{}, err
	}
	msg.Signature = ed25519.Sign(k.signKey, payload)
	msg.SignatureType = SignatureType
	msg.PublicKey = k.PublicKey()
	return msg, nil
}

// Verify checks the signature carried by msg against prev.
func Verify(msg, prev domain.Message) error {
	if len(msg.Signature) == 0 {
		return ErrMissingSignature
	}
	if msg.SignatureType != SignatureType {
		return fmt.Errorf("keyring: unsupported signature type %q", msg.SignatureType)
	}
	if len(msg.PublicKey) != ed25519.PublicKeySize {
		return errors.New("keyring: invalid public key size")
	}
	payload, err := codec.SigningBytes(msg, prev)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(msg.PublicKey), payload, msg.Signature) {
		return errors.New("keyring: signature mismatch")
	}
	return nil
}
