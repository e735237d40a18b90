package interfaces

import "io"

// ServerPublicKey is a decoded, validated key-server public key. The concrete
// representation belongs to the cipher suite; components hold it as an opaque
// handle and pass it back to the suite for verification and combination.
type ServerPublicKey interface {
	Bytes() []byte
}

// EncapsulationKey is the public half of a one-time key-transport keypair. It
// travels to key servers so released shares can be encrypted to this request
// only.
type EncapsulationKey struct {
	Public       []byte
	Verification []byte
}

// EncapsulationSecret is the private half of a one-time key-transport
// keypair. It must never be sent anywhere; the fetch round that created it is
// its sole owner.
type EncapsulationSecret []byte

// Share is a decapsulated, per-(item, server) decryption key fragment. It is
// meaningless alone and held only transiently during combination.
type Share []byte

// EncryptRequest carries everything the cipher suite needs to produce one
// envelope. PublicKeys is aligned with Servers.
type EncryptRequest struct {
	PackageID  PackageID
	ID         []byte
	Servers    []ServerID
	PublicKeys []ServerPublicKey
	Threshold  uint8
	Data       []byte
}

// CipherSuite is the boundary to the underlying threshold encryption
// primitives. The engine consumes it as an opaque capability: it drives the
// protocol (who to ask, what to verify, when enough shares are present) while
// the suite owns every group operation.
type CipherSuite interface {
	// DecodePublicKey validates a server's encoded public key. Wrong length
	// or an invalid encoding is an error.
	DecodePublicKey(raw []byte) (ServerPublicKey, error)

	// GenerateEncapsulationKeypair creates a fresh one-time key-transport
	// keypair. Called once per fetch-key request, never reused.
	GenerateEncapsulationKeypair(rand io.Reader) (EncapsulationKey, EncapsulationSecret, error)

	// Decapsulate recovers a released share using the request's
	// encapsulation secret.
	Decapsulate(secret EncapsulationSecret, encryptedKey []byte) (Share, error)

	// VerifyShare checks a decapsulated share against the issuing server's
	// public key and the claimed full identity. A failure indicates
	// corruption or a malicious server.
	VerifyShare(share Share, fullID []byte, key ServerPublicKey) error

	// FullID derives the domain-separated identity an item is encrypted
	// under from its package and item ids.
	FullID(packageID PackageID, id []byte) []byte

	// Encrypt produces one envelope for the given payload.
	Encrypt(req EncryptRequest) (*EncryptedEnvelope, error)

	// Combine recovers an envelope's plaintext from verified shares. The
	// shares map holds at least Threshold entries keyed by server; keys
	// holds the decoded public key of every server in the envelope's
	// service list.
	Combine(env *EncryptedEnvelope, shares map[ServerID]Share, keys map[ServerID]ServerPublicKey) ([]byte, error)
}
