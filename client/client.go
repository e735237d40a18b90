// Package client orchestrates the threshold key-release protocol: it
// resolves key servers through the directory, builds encryption envelopes,
// fans signed key-release requests out to servers, and combines verified
// shares back into plaintext.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keyquorum/keyquorum-go/directory"
	"github.com/keyquorum/keyquorum-go/interfaces"
	"github.com/keyquorum/keyquorum-go/session"
)

// Config assembles a Client from its capabilities. Backend and Suite are
// required; everything else has working defaults (no caching, default HTTP
// transport, slog.Default()).
type Config struct {
	Backend        interfaces.DirectoryBackend
	Suite          interfaces.CipherSuite
	Transport      interfaces.Transport
	DirectoryCache interfaces.Cache[interfaces.ServerID, *interfaces.KeyServerRecord]
	FetchCache     interfaces.Cache[FetchCacheKey, *ServerResponse]
	Log            *slog.Logger
}

// Client is the threshold encryption client.
type Client struct {
	directory *directory.Directory
	fetcher   *Fetcher
	suite     interfaces.CipherSuite
	log       *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Backend == nil {
		return nil, errors.New("directory backend is required")
	}
	if cfg.Suite == nil {
		return nil, errors.New("cipher suite is required")
	}

	logger := cfg.Log
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		directory: directory.New(cfg.Backend, cfg.Suite, cfg.DirectoryCache, logger),
		fetcher:   NewFetcher(cfg.Transport, cfg.FetchCache, logger),
		suite:     cfg.Suite,
		log:       logger,
	}, nil
}

// Encrypt encrypts one payload for the given package, item id, threshold,
// and server set, returning its envelope.
func (c *Client) Encrypt(ctx context.Context, packageID interfaces.PackageID, id []byte, threshold uint8, servers []interfaces.ServerID, data []byte) (*interfaces.EncryptedEnvelope, error) {
	envelopes, err := c.EncryptMany(ctx, packageID, id, threshold, servers, [][]byte{data})
	if err != nil {
		return nil, err
	}
	return envelopes[0], nil
}

// EncryptMany encrypts each payload into its own envelope, all sharing the
// same package, item id, server set, and threshold. Server public keys are
// resolved once; envelopes come back in payload order.
func (c *Client) EncryptMany(ctx context.Context, packageID interfaces.PackageID, id []byte, threshold uint8, servers []interfaces.ServerID, payloads [][]byte) ([]*interfaces.EncryptedEnvelope, error) {
	if len(payloads) == 0 {
		return []*interfaces.EncryptedEnvelope{}, nil
	}

	resolved, err := c.directory.ResolveList(ctx, servers)
	if err != nil {
		return nil, err
	}

	publicKeys := make([]interfaces.ServerPublicKey, len(resolved))
	for i, entry := range resolved {
		publicKeys[i] = entry.PublicKey
	}

	envelopes := make([]*interfaces.EncryptedEnvelope, 0, len(payloads))
	for _, payload := range payloads {
		envelope, err := c.suite.Encrypt(interfaces.EncryptRequest{
			PackageID:  packageID,
			ID:         id,
			Servers:    servers,
			PublicKeys: publicKeys,
			Threshold:  threshold,
			Data:       payload,
		})
		if err != nil {
			return nil, fmt.Errorf("encryption failed: %w", err)
		}
		envelopes = append(envelopes, envelope)
	}

	return envelopes, nil
}

// Decrypt recovers the plaintext of one encoded envelope.
func (c *Client) Decrypt(ctx context.Context, envelopeBytes []byte, approvalPayload []byte, sess *session.Session) ([]byte, error) {
	plaintexts, err := c.DecryptMany(ctx, [][]byte{envelopeBytes}, approvalPayload, sess)
	if err != nil {
		return nil, err
	}
	return plaintexts[0], nil
}

// DecryptMany recovers the plaintexts of several encoded envelopes in one
// key-release round, in input order. All envelopes are decoded up front, so
// malformed bytes fail before any network activity. The fetch round targets
// the first envelope's server set and threshold; the remaining envelopes are
// served from the same round's verified shares.
func (c *Client) DecryptMany(ctx context.Context, envelopeBytes [][]byte, approvalPayload []byte, sess *session.Session) ([][]byte, error) {
	if len(envelopeBytes) == 0 {
		return [][]byte{}, nil
	}

	envelopes := make([]*interfaces.EncryptedEnvelope, 0, len(envelopeBytes))
	for _, raw := range envelopeBytes {
		envelope, err := interfaces.ParseEnvelope(raw)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, envelope)
	}

	first := envelopes[0]
	serverIDs := first.ServerIDs()

	resolved, err := c.directory.ResolveList(ctx, serverIDs)
	if err != nil {
		return nil, err
	}

	records := make([]*interfaces.KeyServerRecord, len(resolved))
	keys := make(map[interfaces.ServerID]interfaces.ServerPublicKey, len(resolved))
	for i, entry := range resolved {
		records[i] = entry.Record
		keys[entry.Record.ID] = entry.PublicKey
	}

	request, secret, err := sess.FetchKeyRequest(approvalPayload)
	if err != nil {
		return nil, err
	}

	responses, err := c.fetcher.Fetch(ctx, request, records, first.Threshold)
	if err != nil {
		return nil, err
	}

	c.log.Debug("key release round complete",
		slog.Int("servers", len(records)),
		slog.Int("responses", len(responses)),
		slog.Int("envelopes", len(envelopes)))

	return DecryptObjects(c.suite, secret, responses, envelopes, keys)
}

// ServerRecords resolves and returns the directory records for the given
// server ids, in input order.
func (c *Client) ServerRecords(ctx context.Context, ids []interfaces.ServerID) ([]*interfaces.KeyServerRecord, error) {
	resolved, err := c.directory.ResolveList(ctx, ids)
	if err != nil {
		return nil, err
	}

	records := make([]*interfaces.KeyServerRecord, len(resolved))
	for i, entry := range resolved {
		records[i] = entry.Record
	}
	return records, nil
}
