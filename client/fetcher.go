package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/keyquorum/keyquorum-go/cache"
	"github.com/keyquorum/keyquorum-go/interfaces"
	"github.com/keyquorum/keyquorum-go/transport"
)

// FetchCacheKey memoizes one (signed request, server, threshold)
// combination. Changing the threshold invalidates the entry even for an
// identical request body.
type FetchCacheKey struct {
	digest [32]byte
}

// NewFetchCacheKey derives a cache key from the serialized signed request,
// the target server, and the threshold.
func NewFetchCacheKey(requestBody []byte, server interfaces.ServerID, threshold uint8) FetchCacheKey {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for oversized keys
	}
	h.Write(requestBody)
	h.Write(server[:])
	h.Write([]byte{threshold})

	var key FetchCacheKey
	h.Sum(key.digest[:0])
	return key
}

// String returns the hex digest, suitable as a singleflight key.
func (k FetchCacheKey) String() string {
	return hex.EncodeToString(k.digest[:])
}

// ServerResponse pairs a key server with its successful fetch-key answer.
type ServerResponse struct {
	Server   interfaces.ServerID
	Response *interfaces.FetchKeyResponse
}

// Fetcher fans a signed request out to key servers and collects successes up
// to a threshold.
type Fetcher struct {
	transport interfaces.Transport
	cache     interfaces.Cache[FetchCacheKey, *ServerResponse]
	log       *slog.Logger
}

// NewFetcher creates a Fetcher. A nil transport uses the default HTTP
// transport, a nil cache disables memoization, a nil logger falls back to
// slog.Default().
func NewFetcher(t interfaces.Transport, responseCache interfaces.Cache[FetchCacheKey, *ServerResponse], logger *slog.Logger) *Fetcher {
	if t == nil {
		t = transport.Default
	}
	if responseCache == nil {
		responseCache = cache.NoCache[FetchCacheKey, *ServerResponse]{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Fetcher{transport: t, cache: responseCache, log: logger}
}

// Fetch POSTs the signed request to every server's key-release endpoint
// concurrently and waits for all of them to settle (best-effort full
// fan-out). Individual failures - transport errors and non-2xx answers - are
// tolerated and logged; if fewer than threshold servers answer successfully
// the whole fetch fails with InsufficientKeysError. The returned successes
// may exceed the threshold.
func (f *Fetcher) Fetch(ctx context.Context, request *interfaces.FetchKeyRequest, servers []*interfaces.KeyServerRecord, threshold uint8) ([]*ServerResponse, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("could not encode fetch key request: %w", err)
	}

	results := make([]*ServerResponse, len(servers))

	var wg sync.WaitGroup
	for i, server := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			key := NewFetchCacheKey(body, server.ID, threshold)
			response, err := f.cache.TryGetWith(ctx, key, func(ctx context.Context) (*ServerResponse, error) {
				return f.fetchOne(ctx, server, body)
			})
			if err != nil {
				f.log.Warn("key server did not release keys",
					slog.String("server_id", server.ID.String()),
					slog.String("url", server.URL),
					slog.Any("err", err))
				return
			}

			results[i] = response
		}()
	}
	wg.Wait()

	successes := make([]*ServerResponse, 0, len(results))
	for _, response := range results {
		if response != nil {
			successes = append(successes, response)
		}
	}

	if len(successes) < int(threshold) {
		return nil, &interfaces.InsufficientKeysError{Received: len(successes), Threshold: threshold}
	}

	return successes, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, server *interfaces.KeyServerRecord, body []byte) (*ServerResponse, error) {
	url := strings.TrimSuffix(server.URL, "/") + interfaces.FetchKeyPath

	headers := map[string]string{
		"Content-Type": "application/json",
	}

	response, err := f.transport.Post(ctx, url, headers, body)
	if err != nil {
		return nil, err
	}

	if !response.Success() {
		return nil, &interfaces.FetchError{URL: url, Status: response.Status, Body: string(response.Body)}
	}

	var fetchResponse interfaces.FetchKeyResponse
	if err := json.Unmarshal(response.Body, &fetchResponse); err != nil {
		return nil, fmt.Errorf("could not parse response from %s: %w", url, err)
	}

	return &ServerResponse{Server: server.ID, Response: &fetchResponse}, nil
}
