// Package ciphersuite implements the client's CipherSuite capability with a
// software-only threshold construction: payloads are sealed with AES-256-GCM
// under a random master key, the master key is split with Shamir secret
// sharing, and per-server share keys bind each fragment to a (server, full
// identity) pair. Released shares travel back to the requester under NaCl box
// key transport.
//
// The suite is structurally faithful to a pairing-based identity-based
// scheme, but it is NOT one: a server's published key doubles as the secret
// it derives release keys from, so anyone holding the directory record can
// derive them too. Use it for tests, local development, and wiring
// validation. Production deployments plug in an external pairing-based suite
// behind the same interface.
package ciphersuite

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/box"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

const (
	// PublicKeySize is the encoded size of a server public key.
	PublicKeySize = 32

	// ShareSize is the size of a released share.
	ShareSize = sha256.Size

	masterKeySize = 32
	boxKeySize    = 32
	boxNonceSize  = 24
	gcmNonceSize  = 12

	fullIDDomain       = "keyquorum/full-id/v1"
	verificationDomain = "keyquorum/enc-vk/v1"
)

// Suite is the software threshold suite. It is stateless and safe for
// concurrent use.
type Suite struct{}

// New creates a Suite.
func New() *Suite {
	return &Suite{}
}

type serverPublicKey [PublicKeySize]byte

func (k serverPublicKey) Bytes() []byte {
	return k[:]
}

// DecodePublicKey validates a server's encoded public key.
func (s *Suite) DecodePublicKey(raw []byte) (interfaces.ServerPublicKey, error) {
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("invalid length: got %d bytes, want %d", len(raw), PublicKeySize)
	}

	var key serverPublicKey
	copy(key[:], raw)
	if key == (serverPublicKey{}) {
		return nil, errors.New("all-zero public key")
	}

	return key, nil
}

// GenerateEncapsulationKeypair creates a one-time NaCl box keypair. The
// verification key is a domain-separated commitment to the public half;
// servers may echo it so requesters can bind responses to the keypair they
// issued.
func (s *Suite) GenerateEncapsulationKeypair(rng io.Reader) (interfaces.EncapsulationKey, interfaces.EncapsulationSecret, error) {
	pub, priv, err := box.GenerateKey(rng)
	if err != nil {
		return interfaces.EncapsulationKey{}, nil, fmt.Errorf("could not generate encapsulation keypair: %w", err)
	}

	vk := keyedDigest(verificationDomain, pub[:])

	key := interfaces.EncapsulationKey{
		Public:       append([]byte(nil), pub[:]...),
		Verification: vk,
	}

	return key, interfaces.EncapsulationSecret(priv[:]), nil
}

// EncapsulateShare encrypts a released share to a requester's encapsulation
// public key. Key servers call this when building a fetch-key response.
func EncapsulateShare(rng io.Reader, requesterKey []byte, share []byte) ([]byte, error) {
	if len(requesterKey) != boxKeySize {
		return nil, fmt.Errorf("invalid encapsulation key length: got %d bytes, want %d", len(requesterKey), boxKeySize)
	}

	ephPub, ephPriv, err := box.GenerateKey(rng)
	if err != nil {
		return nil, fmt.Errorf("could not generate ephemeral keypair: %w", err)
	}

	var nonce [boxNonceSize]byte
	if _, err := io.ReadFull(rng, nonce[:]); err != nil {
		return nil, fmt.Errorf("could not generate nonce: %w", err)
	}

	var peer [boxKeySize]byte
	copy(peer[:], requesterKey)

	out := make([]byte, 0, boxKeySize+boxNonceSize+len(share)+box.Overhead)
	out = append(out, ephPub[:]...)
	out = append(out, nonce[:]...)
	return box.Seal(out, share, &nonce, &peer, ephPriv), nil
}

// Decapsulate recovers a released share with the request's encapsulation
// secret.
func (s *Suite) Decapsulate(secret interfaces.EncapsulationSecret, encryptedKey []byte) (interfaces.Share, error) {
	if len(secret) != boxKeySize {
		return nil, fmt.Errorf("invalid encapsulation secret length: got %d bytes, want %d", len(secret), boxKeySize)
	}
	if len(encryptedKey) < boxKeySize+boxNonceSize+box.Overhead {
		return nil, errors.New("encrypted key too short")
	}

	var ephPub, priv [boxKeySize]byte
	var nonce [boxNonceSize]byte
	copy(ephPub[:], encryptedKey[:boxKeySize])
	copy(nonce[:], encryptedKey[boxKeySize:boxKeySize+boxNonceSize])
	copy(priv[:], secret)

	share, ok := box.Open(nil, encryptedKey[boxKeySize+boxNonceSize:], &nonce, &ephPub, &priv)
	if !ok {
		return nil, errors.New("cannot open encapsulated share")
	}

	return interfaces.Share(share), nil
}

// DeriveShareKey computes the release key a server with the given key issues
// for a full identity. The encrypting client computes the same value from the
// directory record, which is what makes this suite test-grade only.
func DeriveShareKey(serverKey []byte, fullID []byte) []byte {
	mac := hmac.New(sha256.New, serverKey)
	mac.Write(fullID)
	return mac.Sum(nil)
}

// VerifyShare checks a decapsulated share against the issuing server's public
// key and the claimed full identity.
func (s *Suite) VerifyShare(share interfaces.Share, fullID []byte, key interfaces.ServerPublicKey) error {
	pk, ok := key.(serverPublicKey)
	if !ok {
		return fmt.Errorf("foreign public key type %T", key)
	}

	expected := DeriveShareKey(pk[:], fullID)
	if !hmac.Equal(expected, share) {
		return errors.New("share does not match server key and identity")
	}

	return nil
}

// FullID derives the domain-separated identity an item is encrypted under.
func (s *Suite) FullID(packageID interfaces.PackageID, id []byte) []byte {
	return keyedDigest(fullIDDomain, packageID[:], id)
}

func keyedDigest(domain string, parts ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for oversized keys
	}
	h.Write([]byte(domain))
	for _, part := range parts {
		h.Write(part)
	}
	return h.Sum(nil)
}
