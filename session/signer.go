package session

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

// PrivateKeySigner implements interfaces.Signer over a raw secp256k1 private
// key, producing EIP-191 personal-message signatures. It is the in-process
// stand-in for an external wallet.
type PrivateKeySigner struct {
	key *ecdsa.PrivateKey
}

// NewPrivateKeySigner wraps an existing private key.
func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key}
}

// NewPrivateKeySignerFromHex parses a hex-encoded private key.
func NewPrivateKeySignerFromHex(hexKey string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &PrivateKeySigner{key: key}, nil
}

// SignPersonalMessage signs the EIP-191 text hash of message. The recovery id
// is shifted to the 27/28 convention wallets use.
func (s *PrivateKeySigner) SignPersonalMessage(_ context.Context, message []byte) ([]byte, error) {
	signature, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, err
	}

	signature[64] += 27
	return signature, nil
}

// PublicKey returns the uncompressed public key bytes.
func (s *PrivateKeySigner) PublicKey() ([]byte, error) {
	return crypto.FromECDSAPub(&s.key.PublicKey), nil
}

// Address returns the account address derived from the public key.
func (s *PrivateKeySigner) Address() (interfaces.AccountAddress, error) {
	addr := crypto.PubkeyToAddress(s.key.PublicKey)
	return interfaces.NewAccountAddressFromBytes(addr.Bytes())
}

// RecoverPersonalSigner recovers the account address that produced an
// EIP-191 personal-message signature. Key servers use it to check the
// certificate's user signature.
func RecoverPersonalSigner(message, signature []byte) (interfaces.AccountAddress, error) {
	if len(signature) != 65 {
		return interfaces.AccountAddress{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return interfaces.AccountAddress{}, fmt.Errorf("cannot recover signer: %w", err)
	}

	return interfaces.NewAccountAddressFromBytes(crypto.PubkeyToAddress(*pub).Bytes())
}
