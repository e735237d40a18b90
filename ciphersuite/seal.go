package ciphersuite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/hashicorp/vault/shamir"
	"golang.org/x/crypto/blake2b"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

// Encrypt produces one envelope: the payload sealed under a fresh master
// key, the master key split across the requested servers with the given
// threshold, and each fragment bound to its server's release key for the
// item's full identity.
func (s *Suite) Encrypt(req interfaces.EncryptRequest) (*interfaces.EncryptedEnvelope, error) {
	n := len(req.Servers)
	switch {
	case req.Threshold == 0:
		return nil, errors.New("threshold must be at least 1")
	case n == 0:
		return nil, errors.New("no key servers given")
	case n > 255:
		return nil, errors.New("too many key servers")
	case int(req.Threshold) > n:
		return nil, fmt.Errorf("threshold %d exceeds server count %d", req.Threshold, n)
	case len(req.PublicKeys) != n:
		return nil, fmt.Errorf("got %d public keys for %d servers", len(req.PublicKeys), n)
	}

	master := make([]byte, masterKeySize)
	if _, err := rand.Read(master); err != nil {
		return nil, fmt.Errorf("could not generate master key: %w", err)
	}

	ciphertext, err := sealSymmetric(master, req.Data)
	if err != nil {
		return nil, err
	}

	fragments, err := splitMaster(master, n, int(req.Threshold))
	if err != nil {
		return nil, err
	}

	fullID := s.FullID(req.PackageID, req.ID)

	encryptedShares := make([][]byte, n)
	services := make([]interfaces.ServiceRef, n)
	for i, server := range req.Servers {
		pk, ok := req.PublicKeys[i].(serverPublicKey)
		if !ok {
			return nil, fmt.Errorf("foreign public key type %T for server %s", req.PublicKeys[i], server)
		}

		releaseKey := DeriveShareKey(pk[:], fullID)
		enc, err := sealSymmetric(fragmentKey(releaseKey), fragments[i])
		if err != nil {
			return nil, err
		}

		encryptedShares[i] = enc
		services[i] = interfaces.ServiceRef{ServerID: server, Index: uint8(i)}
	}

	sharesBlob, err := rlp.EncodeToBytes(encryptedShares)
	if err != nil {
		return nil, fmt.Errorf("could not encode shares: %w", err)
	}

	return &interfaces.EncryptedEnvelope{
		Version:         interfaces.EnvelopeVersion,
		PackageID:       req.PackageID,
		ID:              append([]byte(nil), req.ID...),
		Services:        services,
		Threshold:       req.Threshold,
		EncryptedShares: sharesBlob,
		Ciphertext:      ciphertext,
	}, nil
}

// Combine recovers an envelope's plaintext from verified release keys. The
// shares map must hold at least Threshold entries; servers absent from it are
// skipped.
func (s *Suite) Combine(env *interfaces.EncryptedEnvelope, shares map[interfaces.ServerID]interfaces.Share, keys map[interfaces.ServerID]interfaces.ServerPublicKey) ([]byte, error) {
	var encryptedShares [][]byte
	if err := rlp.DecodeBytes(env.EncryptedShares, &encryptedShares); err != nil {
		return nil, fmt.Errorf("malformed encrypted shares: %w", err)
	}
	if len(encryptedShares) != len(env.Services) {
		return nil, fmt.Errorf("envelope has %d encrypted shares for %d services", len(encryptedShares), len(env.Services))
	}

	fragments := make([][]byte, 0, len(shares))
	for i, svc := range env.Services {
		release, ok := shares[svc.ServerID]
		if !ok {
			continue
		}

		fragment, err := openSymmetric(fragmentKey(release), encryptedShares[i])
		if err != nil {
			return nil, fmt.Errorf("cannot open share fragment for server %s: %w", svc.ServerID, err)
		}
		fragments = append(fragments, fragment)
	}

	if len(fragments) < int(env.Threshold) {
		return nil, fmt.Errorf("have %d usable fragments, threshold requires %d", len(fragments), env.Threshold)
	}

	master, err := combineMaster(fragments, int(env.Threshold))
	if err != nil {
		return nil, err
	}

	plaintext, err := openSymmetric(master, env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("cannot open ciphertext: %w", err)
	}

	return plaintext, nil
}

// splitMaster shards the master key across n holders. Shamir sharing needs a
// polynomial of degree at least 1, so the 1-of-n case hands every holder the
// key itself.
func splitMaster(master []byte, n, threshold int) ([][]byte, error) {
	if threshold == 1 {
		fragments := make([][]byte, n)
		for i := range fragments {
			fragments[i] = append([]byte(nil), master...)
		}
		return fragments, nil
	}

	fragments, err := shamir.Split(master, n, threshold)
	if err != nil {
		return nil, fmt.Errorf("could not split master key: %w", err)
	}
	return fragments, nil
}

func combineMaster(fragments [][]byte, threshold int) ([]byte, error) {
	if threshold == 1 {
		return fragments[0], nil
	}

	master, err := shamir.Combine(fragments)
	if err != nil {
		return nil, fmt.Errorf("could not combine fragments: %w", err)
	}
	return master, nil
}

func fragmentKey(releaseKey []byte) []byte {
	sum := blake2b.Sum256(releaseKey)
	return sum[:]
}

func sealSymmetric(key, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("could not generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func openSymmetric(key, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcmNonceSize {
		return nil, errors.New("sealed data too short")
	}

	return aead.Open(nil, sealed[:gcmNonceSize], sealed[gcmNonceSize:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not initialize cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
