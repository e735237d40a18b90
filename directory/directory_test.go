package directory

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/keyquorum/keyquorum-go/cache"
	"github.com/keyquorum/keyquorum-go/ciphersuite"
	"github.com/keyquorum/keyquorum-go/interfaces"
)

// countingBackend wraps another backend and counts lookups.
type countingBackend struct {
	inner interfaces.DirectoryBackend
	calls atomic.Int64
}

func (b *countingBackend) KeyServerInfo(ctx context.Context, id interfaces.ServerID) (*interfaces.KeyServerRecord, error) {
	b.calls.Inc()
	return b.inner.KeyServerInfo(ctx, id)
}

func testRecord(t *testing.T, name string) *interfaces.KeyServerRecord {
	t.Helper()

	var id interfaces.ServerID
	_, err := rand.Read(id[:])
	require.NoError(t, err)

	publicKey := make([]byte, ciphersuite.PublicKeySize)
	_, err = rand.Read(publicKey)
	require.NoError(t, err)

	return &interfaces.KeyServerRecord{
		ID:        id,
		Name:      name,
		URL:       "http://" + name + ".example",
		PublicKey: publicKey,
	}
}

func TestResolveListPreservesOrder(t *testing.T) {
	a := testRecord(t, "a")
	b := testRecord(t, "b")
	c := testRecord(t, "c")
	backend := NewStaticBackend(a, b, c)

	dir := New(backend, ciphersuite.New(), nil, nil)

	resolved, err := dir.ResolveList(context.Background(), []interfaces.ServerID{c.ID, a.ID, b.ID})
	require.NoError(t, err)
	require.Len(t, resolved, 3)

	assert.Equal(t, c, resolved[0].Record)
	assert.Equal(t, a, resolved[1].Record)
	assert.Equal(t, b, resolved[2].Record)

	for _, entry := range resolved {
		require.NotNil(t, entry.PublicKey)
		assert.Equal(t, entry.Record.PublicKey, entry.PublicKey.Bytes())
	}
}

func TestResolveFailsOnUnknownServer(t *testing.T) {
	known := testRecord(t, "known")
	dir := New(NewStaticBackend(known), ciphersuite.New(), nil, nil)

	var unknown interfaces.ServerID
	unknown[0] = 0xff

	_, err := dir.Resolve(context.Background(), []interfaces.ServerID{known.ID, unknown})

	var lookupErr *interfaces.PartialLookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, unknown, lookupErr.Server)
}

func TestResolveFailsOnInvalidPublicKey(t *testing.T) {
	record := testRecord(t, "bad-key")
	record.PublicKey = []byte{0x01, 0x02}
	dir := New(NewStaticBackend(record), ciphersuite.New(), nil, nil)

	_, err := dir.Resolve(context.Background(), []interfaces.ServerID{record.ID})

	var keyErr *interfaces.InvalidPublicKeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, record.ID, keyErr.Server)
}

func TestResolveMemoizesThroughCache(t *testing.T) {
	a := testRecord(t, "a")
	b := testRecord(t, "b")
	backend := &countingBackend{inner: NewStaticBackend(a, b)}

	dir := New(backend, ciphersuite.New(), cache.NewMapCache[interfaces.ServerID, *interfaces.KeyServerRecord](), nil)

	ids := []interfaces.ServerID{a.ID, b.ID}
	for i := 0; i < 3; i++ {
		resolved, err := dir.Resolve(context.Background(), ids)
		require.NoError(t, err)
		require.Len(t, resolved, 2)
	}

	assert.Equal(t, int64(2), backend.calls.Load())
}

func TestStaticBackendAddReplaces(t *testing.T) {
	record := testRecord(t, "original")
	backend := NewStaticBackend(record)

	replacement := &interfaces.KeyServerRecord{
		ID:        record.ID,
		Name:      "replacement",
		URL:       record.URL,
		PublicKey: record.PublicKey,
	}
	backend.Add(replacement)

	got, err := backend.KeyServerInfo(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, "replacement", got.Name)
}
