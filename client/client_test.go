package client

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyquorum/keyquorum-go/cache"
	"github.com/keyquorum/keyquorum-go/ciphersuite"
	"github.com/keyquorum/keyquorum-go/directory"
	"github.com/keyquorum/keyquorum-go/interfaces"
	"github.com/keyquorum/keyquorum-go/mockserver"
	"github.com/keyquorum/keyquorum-go/session"
)

// testCluster wires a client against n in-process key servers.
type testCluster struct {
	servers []*mockserver.Server
	ids     []interfaces.ServerID
	backend *directory.StaticBackend
	suite   *ciphersuite.Suite
	client  *Client
	session *session.Session

	packageID interfaces.PackageID
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()

	c := &testCluster{
		suite:   ciphersuite.New(),
		backend: directory.NewStaticBackend(),
	}
	_, err := rand.Read(c.packageID[:])
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		srv, err := mockserver.New("keyserver", nil)
		require.NoError(t, err)
		t.Cleanup(srv.Close)

		c.servers = append(c.servers, srv)
		c.ids = append(c.ids, srv.ID())
		c.backend.Add(srv.Record())
	}

	engine, err := New(Config{Backend: c.backend, Suite: c.suite})
	require.NoError(t, err)
	c.client = engine

	walletKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sess, err := session.New(context.Background(), c.suite, c.packageID, 10, session.NewPrivateKeySigner(walletKey))
	require.NoError(t, err)
	c.session = sess

	return c
}

func (c *testCluster) approval(t *testing.T, itemID []byte) []byte {
	t.Helper()

	approval, err := mockserver.Approval(c.packageID, itemID)
	require.NoError(t, err)
	return approval
}

func TestClientRequiresBackendAndSuite(t *testing.T) {
	_, err := New(Config{Suite: ciphersuite.New()})
	require.ErrorContains(t, err, "backend")

	_, err = New(Config{Backend: directory.NewStaticBackend()})
	require.ErrorContains(t, err, "suite")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCluster(t, 3)
	itemID := []byte("document-1")
	data := []byte("secret document body")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 2, c.ids, data)
	require.NoError(t, err)

	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	plaintext, err := c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)
	require.NoError(t, err)
	assert.Equal(t, data, plaintext)
}

func TestDecryptSucceedsWithOneServerDown(t *testing.T) {
	c := newTestCluster(t, 3)
	itemID := []byte("document-1")
	data := []byte("survives one failure")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 2, c.ids, data)
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	c.servers[1].SetFailing(true)

	plaintext, err := c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)
	require.NoError(t, err)
	assert.Equal(t, data, plaintext)
}

func TestDecryptFailsBelowThreshold(t *testing.T) {
	c := newTestCluster(t, 3)
	itemID := []byte("document-1")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 3, c.ids, []byte("needs all three"))
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	c.servers[2].SetFailing(true)

	_, err = c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)

	var insufficientErr *interfaces.InsufficientKeysError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 2, insufficientErr.Received)
}

func TestDecryptRejectsDeniedApproval(t *testing.T) {
	c := newTestCluster(t, 2)
	itemID := []byte("document-1")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 2, c.ids, []byte("data"))
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	denied := errors.New("policy says no")
	for _, srv := range c.servers {
		srv.SetApprovePolicy(func(interfaces.PackageID, []byte, interfaces.SessionCertificate) error {
			return denied
		})
	}

	_, err = c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)

	var insufficientErr *interfaces.InsufficientKeysError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 0, insufficientErr.Received)
}

func TestDecryptRejectsTamperedDirectoryKey(t *testing.T) {
	c := newTestCluster(t, 2)
	itemID := []byte("document-1")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 1, c.ids, []byte("data"))
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	// Swap one server's directory key for a different one. Its released
	// shares no longer verify, which is fatal for the whole operation.
	record := c.servers[0].Record()
	record.PublicKey = make([]byte, ciphersuite.PublicKeySize)
	_, err = rand.Read(record.PublicKey)
	require.NoError(t, err)
	c.backend.Add(record)

	_, err = c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)

	var verifyErr *interfaces.ShareVerificationError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, c.ids[0], verifyErr.Server)
}

func TestDecryptRejectsCorruptedShare(t *testing.T) {
	c := newTestCluster(t, 3)
	itemID := []byte("document-1")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 2, c.ids, []byte("data"))
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	c.servers[0].SetCorrupting(true)

	_, err = c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)

	var verifyErr *interfaces.ShareVerificationError
	require.ErrorAs(t, err, &verifyErr)
	assert.Equal(t, c.ids[0], verifyErr.Server)
}

func TestDecryptToleratesDuplicatedShares(t *testing.T) {
	c := newTestCluster(t, 2)
	itemID := []byte("document-1")
	data := []byte("idempotent shares")

	envelope, err := c.client.Encrypt(context.Background(), c.packageID, itemID, 2, c.ids, data)
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	// A repeated decryption key within one response is harmless; only a
	// repeated server is fatal.
	c.servers[0].SetDuplicating(true)

	plaintext, err := c.client.Decrypt(context.Background(), encoded, c.approval(t, itemID), c.session)
	require.NoError(t, err)
	assert.Equal(t, data, plaintext)
}

func TestEncryptManyPreservesPayloadOrder(t *testing.T) {
	c := newTestCluster(t, 3)
	itemID := []byte("batch")
	payloads := [][]byte{
		[]byte("payload one"),
		[]byte("payload two"),
		[]byte("payload three"),
	}

	envelopes, err := c.client.EncryptMany(context.Background(), c.packageID, itemID, 2, c.ids, payloads)
	require.NoError(t, err)
	require.Len(t, envelopes, 3)

	encoded := make([][]byte, len(envelopes))
	for i, envelope := range envelopes {
		encoded[i], err = envelope.Bytes()
		require.NoError(t, err)
	}

	plaintexts, err := c.client.DecryptMany(context.Background(), encoded, c.approval(t, itemID), c.session)
	require.NoError(t, err)
	require.Len(t, plaintexts, 3)
	for i, payload := range payloads {
		assert.Equal(t, payload, plaintexts[i])
	}

	// One fetch round serves every envelope: each server saw one request.
	for _, srv := range c.servers {
		assert.Equal(t, int64(1), srv.Requests())
	}
}

func TestEncryptManyEmptyPayloads(t *testing.T) {
	c := newTestCluster(t, 2)

	envelopes, err := c.client.EncryptMany(context.Background(), c.packageID, []byte("x"), 1, c.ids, nil)
	require.NoError(t, err)
	assert.Empty(t, envelopes)
}

func TestDecryptManyEmptyEnvelopes(t *testing.T) {
	c := newTestCluster(t, 2)

	plaintexts, err := c.client.DecryptMany(context.Background(), nil, c.approval(t, []byte("x")), c.session)
	require.NoError(t, err)
	assert.Empty(t, plaintexts)

	for _, srv := range c.servers {
		assert.Equal(t, int64(0), srv.Requests())
	}
}

func TestDecryptManyRejectsMalformedEnvelopeUpFront(t *testing.T) {
	c := newTestCluster(t, 2)

	_, err := c.client.DecryptMany(context.Background(), [][]byte{{0xde, 0xad}}, c.approval(t, []byte("x")), c.session)
	require.ErrorContains(t, err, "malformed envelope")

	for _, srv := range c.servers {
		assert.Equal(t, int64(0), srv.Requests())
	}
}

func TestEncryptUnknownServerFails(t *testing.T) {
	c := newTestCluster(t, 2)

	var unknown interfaces.ServerID
	unknown[0] = 0xff

	_, err := c.client.Encrypt(context.Background(), c.packageID, []byte("x"), 1, []interfaces.ServerID{unknown}, []byte("data"))

	var lookupErr *interfaces.PartialLookupError
	require.ErrorAs(t, err, &lookupErr)
}

func TestServerRecordsPreservesOrder(t *testing.T) {
	c := newTestCluster(t, 3)

	reversed := []interfaces.ServerID{c.ids[2], c.ids[1], c.ids[0]}
	records, err := c.client.ServerRecords(context.Background(), reversed)
	require.NoError(t, err)
	require.Len(t, records, 3)

	for i, id := range reversed {
		assert.Equal(t, id, records[i].ID)
	}
}

func TestClientWithCachesStillRoundTrips(t *testing.T) {
	c := newTestCluster(t, 3)

	engine, err := New(Config{
		Backend:        c.backend,
		Suite:          c.suite,
		DirectoryCache: cache.NewMapCache[interfaces.ServerID, *interfaces.KeyServerRecord](),
		FetchCache:     cache.NewMapCache[FetchCacheKey, *ServerResponse](),
	})
	require.NoError(t, err)

	itemID := []byte("cached-item")
	data := []byte("cached payload")

	envelope, err := engine.Encrypt(context.Background(), c.packageID, itemID, 2, c.ids, data)
	require.NoError(t, err)
	encoded, err := envelope.Bytes()
	require.NoError(t, err)

	approval := c.approval(t, itemID)
	for i := 0; i < 2; i++ {
		plaintext, err := engine.Decrypt(context.Background(), encoded, approval, c.session)
		require.NoError(t, err)
		assert.Equal(t, data, plaintext)
	}

	// Every round signs a fresh request with a fresh encapsulation key, so
	// the fetch cache cannot serve the second round.
	for _, srv := range c.servers {
		assert.Equal(t, int64(2), srv.Requests())
	}
}
