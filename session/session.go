// Package session mints time-bounded session credentials and builds the
// signed key-release requests a session authorizes. A session binds a fresh
// ed25519 signing key to a user identity, a package, and a TTL via a single
// wallet signature; individual requests are then signed with the session key
// only.
package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/keyquorum/keyquorum-go/interfaces"
)

// Session TTL bounds, in minutes, inclusive.
const (
	MinTTLMinutes uint16 = 1
	MaxTTLMinutes uint16 = 30
)

// Session is a live session credential. It owns the ephemeral session
// signing key; the key never leaves the process.
type Session struct {
	user          interfaces.AccountAddress
	packageID     interfaces.PackageID
	creationTime  uint64 // unix milliseconds
	ttlMinutes    uint16
	scopeName     string
	signingKey    ed25519.PrivateKey
	verifyingKey  ed25519.PublicKey
	userSignature []byte

	suite interfaces.CipherSuite
	rng   io.Reader
}

// Option adjusts session creation.
type Option func(*Session)

// WithScopeName attaches a human-readable scope name to the certificate.
func WithScopeName(name string) Option {
	return func(s *Session) { s.scopeName = name }
}

// New mints a session credential for packageID lasting ttlMinutes. It
// generates a fresh ed25519 session keypair, builds the canonical
// authorization message, and asks the signer capability to sign it with the
// user's identity key. The TTL is validated before anything else happens.
func New(ctx context.Context, suite interfaces.CipherSuite, packageID interfaces.PackageID, ttlMinutes uint16, signer interfaces.Signer, opts ...Option) (*Session, error) {
	if ttlMinutes < MinTTLMinutes || ttlMinutes > MaxTTLMinutes {
		return nil, &interfaces.InvalidTTLError{Min: MinTTLMinutes, Max: MaxTTLMinutes, Received: ttlMinutes}
	}

	verifyingKey, signingKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("could not generate session key: %w", err)
	}

	user, err := signer.Address()
	if err != nil {
		return nil, &interfaces.SigningError{Err: err}
	}

	now := uint64(time.Now().UnixMilli())
	message := SignedMessage(packageID, verifyingKey, now, ttlMinutes)

	signature, err := signer.SignPersonalMessage(ctx, []byte(message))
	if err != nil {
		return nil, &interfaces.SigningError{Err: err}
	}
	if len(signature) == 0 {
		return nil, &interfaces.SigningError{Err: fmt.Errorf("signer returned an empty signature")}
	}

	sess := &Session{
		user:          user,
		packageID:     packageID,
		creationTime:  now,
		ttlMinutes:    ttlMinutes,
		signingKey:    signingKey,
		verifyingKey:  verifyingKey,
		userSignature: signature,
		suite:         suite,
		rng:           rand.Reader,
	}

	for _, opt := range opts {
		opt(sess)
	}

	return sess, nil
}

// SignedMessage renders the canonical authorization message the user signs.
// The creation time is rendered as UTC calendar time truncated to seconds.
func SignedMessage(packageID interfaces.PackageID, verifyingKey ed25519.PublicKey, creationTimeMs uint64, ttlMinutes uint16) string {
	created := time.UnixMilli(int64(creationTimeMs)).UTC().Truncate(time.Second)

	return fmt.Sprintf(
		"Accessing keys of package %s for %d mins from %s, session key %s",
		packageID,
		ttlMinutes,
		created.Format("2006-01-02 15:04:05 UTC"),
		base64.StdEncoding.EncodeToString(verifyingKey),
	)
}

// Address returns the user identity the session is bound to.
func (s *Session) Address() interfaces.AccountAddress {
	return s.user
}

// PackageID returns the package the session authorizes access to.
func (s *Session) PackageID() interfaces.PackageID {
	return s.packageID
}

// Certificate returns the session certificate presented to key servers.
func (s *Session) Certificate() interfaces.SessionCertificate {
	return interfaces.SessionCertificate{
		User:                s.user,
		SessionVerifyingKey: append([]byte(nil), s.verifyingKey...),
		CreationTime:        s.creationTime,
		TTLMinutes:          s.ttlMinutes,
		Signature:           append([]byte(nil), s.userSignature...),
		ScopeName:           s.scopeName,
	}
}

// requestBody is the canonical binary request the session key signs. Servers
// rebuild it from the JSON fields to check the signature.
type requestBody struct {
	Ptb                []byte
	EncKey             []byte
	EncVerificationKey []byte
}

// EncodeRequestBody renders the canonical request body servers verify the
// request signature against.
func EncodeRequestBody(approvalPayload, encKey, encVerificationKey []byte) ([]byte, error) {
	return rlp.EncodeToBytes(&requestBody{
		Ptb:                approvalPayload,
		EncKey:             encKey,
		EncVerificationKey: encVerificationKey,
	})
}

// FetchKeyRequest builds a signed key-release request for the given approval
// payload. Every call generates a fresh key-encapsulation keypair, so servers
// can only answer this specific request. The returned secret must never be
// sent anywhere; the caller needs it to decapsulate released shares.
func (s *Session) FetchKeyRequest(approvalPayload []byte) (*interfaces.FetchKeyRequest, interfaces.EncapsulationSecret, error) {
	encKey, encSecret, err := s.suite.GenerateEncapsulationKeypair(s.rng)
	if err != nil {
		return nil, nil, fmt.Errorf("could not generate encapsulation keypair: %w", err)
	}

	body, err := EncodeRequestBody(approvalPayload, encKey.Public, encKey.Verification)
	if err != nil {
		return nil, nil, fmt.Errorf("could not encode request body: %w", err)
	}

	signature := ed25519.Sign(s.signingKey, body)

	request := &interfaces.FetchKeyRequest{
		Ptb:                base64.StdEncoding.EncodeToString(approvalPayload),
		EncKey:             encKey.Public,
		EncVerificationKey: encKey.Verification,
		RequestSignature:   signature,
		Certificate:        s.Certificate(),
	}

	return request, encSecret, nil
}
