package interfaces

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// EnvelopeVersion is the wire version produced by this library.
const EnvelopeVersion uint8 = 1

// ServiceRef names one key server participating in an envelope together with
// its share index.
type ServiceRef struct {
	ServerID ServerID
	Index    uint8
}

// EncryptedEnvelope is the self-describing ciphertext package. It names the
// package and item identity it was encrypted for, the key servers holding
// shares, and the threshold required to recover the payload. EncryptedShares
// and Ciphertext are opaque cipher-suite encodings.
//
// Envelopes are immutable: produced once by encryption, consumed by
// decryption.
type EncryptedEnvelope struct {
	Version         uint8
	PackageID       PackageID
	ID              []byte
	Services        []ServiceRef
	Threshold       uint8
	EncryptedShares []byte
	Ciphertext      []byte
}

// ServerIDs returns the servers referenced by the envelope, in service order.
func (e *EncryptedEnvelope) ServerIDs() []ServerID {
	ids := make([]ServerID, 0, len(e.Services))
	for _, svc := range e.Services {
		ids = append(ids, svc.ServerID)
	}
	return ids
}

// Bytes returns the canonical binary encoding of the envelope.
func (e *EncryptedEnvelope) Bytes() ([]byte, error) {
	return rlp.EncodeToBytes(e)
}

// ParseEnvelope decodes and validates an envelope from its canonical binary
// encoding. Malformed bytes fail here, before any network activity.
func ParseEnvelope(data []byte) (*EncryptedEnvelope, error) {
	var env EncryptedEnvelope
	if err := rlp.DecodeBytes(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("unsupported envelope version %d", env.Version)
	}
	if env.Threshold == 0 {
		return nil, errors.New("envelope threshold must be at least 1")
	}
	if len(env.Services) < int(env.Threshold) {
		return nil, fmt.Errorf("envelope references %d services but requires threshold %d", len(env.Services), env.Threshold)
	}

	return &env, nil
}
