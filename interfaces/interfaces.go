package interfaces

import "context"

// FetchKeyPath is the key-release endpoint every key server exposes under
// its base URL.
const FetchKeyPath = "/v1/fetch_key"

// Cache is a compute-once memoization capability. TryGetWith returns the
// cached value for key if present without invoking compute; otherwise it runs
// compute and, on success only, stores the result.
//
// The minimal backends do not coalesce concurrent misses for the same key:
// redundant computes may run. That is a documented contract, not a bug -
// correctness never depends on coalescing, only throughput does. Backends
// that do coalesce may hand the same error value to several waiters.
type Cache[K comparable, V any] interface {
	TryGetWith(ctx context.Context, key K, compute func(ctx context.Context) (V, error)) (V, error)
}

// DirectoryBackend resolves a single key-server identifier to its record.
// Implementations typically query a blockchain registry; errors are
// implementation-defined and converted into the engine's taxonomy by the
// directory.
type DirectoryBackend interface {
	KeyServerInfo(ctx context.Context, id ServerID) (*KeyServerRecord, error)
}

// PostResponse is the outcome of one transport POST.
type PostResponse struct {
	Status int
	Body   []byte
}

// Success reports whether the response carries a 2xx status.
func (r *PostResponse) Success() bool {
	return r.Status >= 200 && r.Status < 300
}

// Transport delivers signed requests to key servers. A non-nil error means
// the request never produced an HTTP response; protocol-level failures are
// reported through the status code instead.
type Transport interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (*PostResponse, error)
}

// Signer abstracts the end-user wallet capability used to authorize a
// session: personal-message signing plus the identity the signature binds to.
type Signer interface {
	SignPersonalMessage(ctx context.Context, message []byte) ([]byte, error)
	PublicKey() ([]byte, error)
	Address() (AccountAddress, error)
}
