package interfaces

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// InvalidTTLError reports a session TTL outside the accepted window. It is
// raised before any network activity.
type InvalidTTLError struct {
	Min      uint16
	Max      uint16
	Received uint16
}

func (e *InvalidTTLError) Error() string {
	return fmt.Sprintf("ttl must be between %d and %d minutes, received %d", e.Min, e.Max, e.Received)
}

// SigningError wraps a failure of the wallet signing capability.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("cannot sign session certificate: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// PartialLookupError reports the first key-server resolution that failed
// during an all-or-nothing directory lookup.
type PartialLookupError struct {
	Server ServerID
	Err    error
}

func (e *PartialLookupError) Error() string {
	return fmt.Sprintf("directory lookup failed for server %s: %v", e.Server, e.Err)
}

func (e *PartialLookupError) Unwrap() error { return e.Err }

// InvalidPublicKeyError reports a key-server record whose encoded public key
// could not be decoded. It is fatal to the whole resolution.
type InvalidPublicKeyError struct {
	Server ServerID
	Reason string
}

func (e *InvalidPublicKeyError) Error() string {
	return fmt.Sprintf("invalid public key for server %s: %s", e.Server, e.Reason)
}

// FetchError reports a non-2xx answer from a single key server. The fetcher
// recovers from these up to the threshold; they surface directly only through
// logs and InsufficientKeysError aggregation.
type FetchError struct {
	URL    string
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error while fetching derived keys from %s: HTTP %d - %s", e.URL, e.Status, e.Body)
}

// InsufficientKeysError reports that fewer servers answered successfully than
// the threshold requires.
type InsufficientKeysError struct {
	Received  int
	Threshold uint8
}

func (e *InsufficientKeysError) Error() string {
	return fmt.Sprintf("insufficient keys: received %d, but threshold is %d", e.Received, e.Threshold)
}

// DuplicateServerError reports the same server appearing twice in a response
// set. Always fatal, independent of share validity.
type DuplicateServerError struct {
	Server ServerID
}

func (e *DuplicateServerError) Error() string {
	return fmt.Sprintf("duplicate server %s in responses", e.Server)
}

// UnknownServerError reports a response from a server with no resolved public
// key.
type UnknownServerError struct {
	Server ServerID
}

func (e *UnknownServerError) Error() string {
	return fmt.Sprintf("no public key resolved for server %s", e.Server)
}

// ShareVerificationError reports a released share that failed verification
// against the issuing server's public key. Fatal for the whole operation: it
// indicates corruption or an actively malicious server.
type ShareVerificationError struct {
	Server ServerID
	Err    error
}

func (e *ShareVerificationError) Error() string {
	return fmt.Sprintf("share from server %s failed verification: %v", e.Server, e.Err)
}

func (e *ShareVerificationError) Unwrap() error { return e.Err }

// NoKeysForObjectError reports that no responding server released any share
// for an envelope's full identity.
type NoKeysForObjectError struct {
	FullID []byte
}

func (e *NoKeysForObjectError) Error() string {
	return fmt.Sprintf("no keys available for object with full id %s", hexutil.Encode(e.FullID))
}

// MissingServerShareError reports a server that answered the fetch round but
// released no share for this specific item.
type MissingServerShareError struct {
	Server ServerID
}

func (e *MissingServerShareError) Error() string {
	return fmt.Sprintf("object requires a key from server %s but its response did not include one", e.Server)
}

// InsufficientKeysForObjectError reports that the verified shares matching
// one envelope fall short of its threshold.
type InsufficientKeysForObjectError struct {
	Received  int
	Threshold uint8
}

func (e *InsufficientKeysForObjectError) Error() string {
	return fmt.Sprintf("insufficient keys for object: have %d, threshold requires %d", e.Received, e.Threshold)
}
