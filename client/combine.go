package client

import (
	"github.com/keyquorum/keyquorum-go/interfaces"
)

// DecryptObjects verifies every released share once, then recovers each
// envelope's plaintext from the shares matching its identity. Results are in
// envelope order.
//
// Step 1 decapsulates and verifies every share in the responses; any
// verification failure or duplicate server is fatal for the whole call.
// Step 2 matches verified shares to each envelope by full identity. A server
// that answered the fetch round but released nothing for a referenced item
// is fatal (MissingServerShare); servers that never answered are simply
// absent and only count against the envelope's threshold. The two-step split
// lets one fetch round serve several envelopes with overlapping server sets
// without re-verifying shares per object.
func DecryptObjects(
	suite interfaces.CipherSuite,
	secret interfaces.EncapsulationSecret,
	responses []*ServerResponse,
	envelopes []*interfaces.EncryptedEnvelope,
	keys map[interfaces.ServerID]interfaces.ServerPublicKey,
) ([][]byte, error) {
	if len(envelopes) == 0 {
		return [][]byte{}, nil
	}

	verified := make(map[string]map[interfaces.ServerID]interfaces.Share)
	answered := make(map[interfaces.ServerID]bool, len(responses))

	for _, response := range responses {
		if answered[response.Server] {
			return nil, &interfaces.DuplicateServerError{Server: response.Server}
		}
		answered[response.Server] = true

		key, ok := keys[response.Server]
		if !ok {
			return nil, &interfaces.UnknownServerError{Server: response.Server}
		}

		for _, decryptionKey := range response.Response.DecryptionKeys {
			share, err := suite.Decapsulate(secret, decryptionKey.EncryptedKey)
			if err != nil {
				return nil, &interfaces.ShareVerificationError{Server: response.Server, Err: err}
			}

			if err := suite.VerifyShare(share, decryptionKey.ID, key); err != nil {
				return nil, &interfaces.ShareVerificationError{Server: response.Server, Err: err}
			}

			byServer, ok := verified[string(decryptionKey.ID)]
			if !ok {
				byServer = make(map[interfaces.ServerID]interfaces.Share)
				verified[string(decryptionKey.ID)] = byServer
			}
			byServer[response.Server] = share
		}
	}

	plaintexts := make([][]byte, 0, len(envelopes))
	for _, envelope := range envelopes {
		fullID := suite.FullID(envelope.PackageID, envelope.ID)

		byServer, ok := verified[string(fullID)]
		if !ok {
			return nil, &interfaces.NoKeysForObjectError{FullID: fullID}
		}

		matched := make(map[interfaces.ServerID]interfaces.Share, len(envelope.Services))
		for _, service := range envelope.Services {
			share, ok := byServer[service.ServerID]
			if !ok {
				if answered[service.ServerID] {
					// The server took part in the round but withheld this
					// item's share.
					return nil, &interfaces.MissingServerShareError{Server: service.ServerID}
				}
				continue
			}
			matched[service.ServerID] = share
		}

		if len(matched) < int(envelope.Threshold) {
			return nil, &interfaces.InsufficientKeysForObjectError{Received: len(matched), Threshold: envelope.Threshold}
		}

		plaintext, err := suite.Combine(envelope, matched, keys)
		if err != nil {
			return nil, err
		}

		plaintexts = append(plaintexts, plaintext)
	}

	return plaintexts, nil
}
