// Package interfaces defines the core types and capability contracts for the
// threshold key-release client. It provides the contract between components
// without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ServerID identifies a key server. It matches the 32-byte object identifier
// the on-chain directory uses to register the server.
type ServerID [32]byte

// NewServerIDFromBytes creates a server identifier from a raw byte slice.
func NewServerIDFromBytes(b []byte) (ServerID, error) {
	if len(b) != 32 {
		return ServerID{}, errors.New("invalid server id length: must be 32 bytes")
	}

	var id ServerID
	copy(id[:], b)
	return id, nil
}

// NewServerIDFromHex creates a server identifier from a hex string, with or
// without the 0x prefix.
func NewServerIDFromHex(s string) (ServerID, error) {
	b, err := hexutil.Decode(withHexPrefix(s))
	if err != nil {
		return ServerID{}, fmt.Errorf("invalid server id hex: %w", err)
	}
	return NewServerIDFromBytes(b)
}

// String returns the 0x-prefixed hex representation of the server id.
func (id ServerID) String() string {
	return hexutil.Encode(id[:])
}

// Bytes returns the raw 32-byte identifier.
func (id ServerID) Bytes() []byte {
	return id[:]
}

// PackageID identifies the access-control package an encrypted object is
// bound to. Key servers release shares only for requests authorized against
// this package.
type PackageID [32]byte

// NewPackageIDFromBytes creates a package identifier from a raw byte slice.
func NewPackageIDFromBytes(b []byte) (PackageID, error) {
	if len(b) != 32 {
		return PackageID{}, errors.New("invalid package id length: must be 32 bytes")
	}

	var id PackageID
	copy(id[:], b)
	return id, nil
}

// NewPackageIDFromHex creates a package identifier from a hex string.
func NewPackageIDFromHex(s string) (PackageID, error) {
	b, err := hexutil.Decode(withHexPrefix(s))
	if err != nil {
		return PackageID{}, fmt.Errorf("invalid package id hex: %w", err)
	}
	return NewPackageIDFromBytes(b)
}

// String returns the 0x-prefixed hex representation of the package id.
func (id PackageID) String() string {
	return hexutil.Encode(id[:])
}

// Bytes returns the raw 32-byte identifier.
func (id PackageID) Bytes() []byte {
	return id[:]
}

// AccountAddress is the 20-byte address of the end user authorizing a
// session. Certificates carry it so key servers can check the package policy
// against the right principal.
type AccountAddress [20]byte

// NewAccountAddressFromBytes creates an account address from a raw byte slice.
func NewAccountAddressFromBytes(b []byte) (AccountAddress, error) {
	if len(b) != 20 {
		return AccountAddress{}, errors.New("invalid address length: must be 20 bytes")
	}

	var addr AccountAddress
	copy(addr[:], b)
	return addr, nil
}

// NewAccountAddressFromHex creates an account address from a hex string.
func NewAccountAddressFromHex(s string) (AccountAddress, error) {
	b, err := hexutil.Decode(withHexPrefix(s))
	if err != nil {
		return AccountAddress{}, fmt.Errorf("invalid address hex: %w", err)
	}
	return NewAccountAddressFromBytes(b)
}

// String returns the 0x-prefixed hex representation of the address.
func (addr AccountAddress) String() string {
	return hexutil.Encode(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr AccountAddress) Bytes() []byte {
	return addr[:]
}

func withHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

// KeyServerRecord describes a registered key server: its directory
// identifier, a human-readable name, the base URL of its key-release
// endpoint, and its encoded public key. Records are immutable once fetched;
// concurrent callers share them and must not modify them.
type KeyServerRecord struct {
	ID        ServerID `json:"id"`
	Name      string   `json:"name"`
	URL       string   `json:"url"`
	PublicKey []byte   `json:"public_key"`
}

// SessionCertificate authorizes the bearer of a session signing key to issue
// key-release requests for a package without re-signing with the user's
// long-term key. Expiry is enforced server-side against CreationTime and
// TTLMinutes.
type SessionCertificate struct {
	User                AccountAddress `json:"user"`
	SessionVerifyingKey hexutil.Bytes  `json:"session_vk"`
	CreationTime        uint64         `json:"creation_time"`
	TTLMinutes          uint16         `json:"ttl_min"`
	Signature           hexutil.Bytes  `json:"signature"`
	ScopeName           string         `json:"scope_name,omitempty"`
}

// FetchKeyRequest is the JSON body POSTed to a key server's
// /v1/fetch_key endpoint. Ptb carries the base64-encoded approval payload the
// server evaluates against the package policy; RequestSignature is produced
// by the session key over the canonical request body, while the certificate
// carries the user's original signature.
type FetchKeyRequest struct {
	Ptb                string             `json:"ptb"`
	EncKey             hexutil.Bytes      `json:"enc_key"`
	EncVerificationKey hexutil.Bytes      `json:"enc_verification_key"`
	RequestSignature   hexutil.Bytes      `json:"request_signature"`
	Certificate        SessionCertificate `json:"certificate"`
}

// DecryptionKey is one released share: the full identity it was derived for
// and the share material encrypted to the request's encapsulation key.
type DecryptionKey struct {
	ID           hexutil.Bytes `json:"id"`
	EncryptedKey hexutil.Bytes `json:"encrypted_key"`
}

// FetchKeyResponse is a key server's successful answer to a FetchKeyRequest.
type FetchKeyResponse struct {
	DecryptionKeys []DecryptionKey `json:"decryption_keys"`
}
