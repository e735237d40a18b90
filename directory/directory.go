// Package directory resolves key-server identifiers to their records: name,
// key-release URL, and public key. Lookups go through a pluggable backend
// (normally the on-chain registry) and are memoized per server id.
package directory

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/keyquorum/keyquorum-go/cache"
	"github.com/keyquorum/keyquorum-go/interfaces"
)

// Resolved pairs a key-server record with its decoded public key. Resolved
// values are shared between concurrent callers and must not be modified.
type Resolved struct {
	Record    *interfaces.KeyServerRecord
	PublicKey interfaces.ServerPublicKey
}

// Directory resolves sets of server ids concurrently, all-or-nothing.
type Directory struct {
	backend interfaces.DirectoryBackend
	suite   interfaces.CipherSuite
	cache   interfaces.Cache[interfaces.ServerID, *interfaces.KeyServerRecord]
	log     *slog.Logger
}

// New creates a Directory. A nil cache disables memoization; a nil logger
// falls back to slog.Default().
func New(backend interfaces.DirectoryBackend, suite interfaces.CipherSuite, recordCache interfaces.Cache[interfaces.ServerID, *interfaces.KeyServerRecord], logger *slog.Logger) *Directory {
	if recordCache == nil {
		recordCache = cache.NoCache[interfaces.ServerID, *interfaces.KeyServerRecord]{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{
		backend: backend,
		suite:   suite,
		cache:   recordCache,
		log:     logger,
	}
}

// Resolve looks up every id concurrently and returns the full mapping, or
// the first failure. A partial set is never returned: one failed lookup
// fails the whole resolution, though in-flight lookups still run to
// completion. Public keys are decoded as part of resolution; an undecodable
// key is fatal.
func (d *Directory) Resolve(ctx context.Context, ids []interfaces.ServerID) (map[interfaces.ServerID]*Resolved, error) {
	resolved := make(map[interfaces.ServerID]*Resolved, len(ids))
	var mu sync.Mutex

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			entry, err := d.resolveOne(ctx, id)
			if err != nil {
				d.log.Warn("key server resolution failed",
					slog.String("server_id", id.String()),
					slog.Any("err", err))
				return err
			}

			mu.Lock()
			resolved[id] = entry
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return resolved, nil
}

// ResolveList resolves ids and returns the entries in input order.
func (d *Directory) ResolveList(ctx context.Context, ids []interfaces.ServerID) ([]*Resolved, error) {
	resolved, err := d.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*Resolved, len(ids))
	for i, id := range ids {
		out[i] = resolved[id]
	}
	return out, nil
}

func (d *Directory) resolveOne(ctx context.Context, id interfaces.ServerID) (*Resolved, error) {
	record, err := d.cache.TryGetWith(ctx, id, func(ctx context.Context) (*interfaces.KeyServerRecord, error) {
		return d.backend.KeyServerInfo(ctx, id)
	})
	if err != nil {
		return nil, &interfaces.PartialLookupError{Server: id, Err: err}
	}

	publicKey, err := d.suite.DecodePublicKey(record.PublicKey)
	if err != nil {
		return nil, &interfaces.InvalidPublicKeyError{Server: id, Reason: err.Error()}
	}

	return &Resolved{Record: record, PublicKey: publicKey}, nil
}
