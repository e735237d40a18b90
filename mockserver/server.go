// Package mockserver runs an in-process key server for tests and local
// development. It implements the /v1/fetch_key wire contract against the
// software cipher suite, verifies request and certificate signatures the way
// a production server would, and supports failure injection. Fixtures are
// created per test run and torn down with Close.
package mockserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"go.uber.org/atomic"

	"github.com/keyquorum/keyquorum-go/ciphersuite"
	"github.com/keyquorum/keyquorum-go/interfaces"
	"github.com/keyquorum/keyquorum-go/session"
)

// ApprovePolicy decides whether a verified request may receive shares for
// the given package and item. Returning an error denies the request.
type ApprovePolicy func(packageID interfaces.PackageID, id []byte, cert interfaces.SessionCertificate) error

// Server is one mock key server instance.
type Server struct {
	id    interfaces.ServerID
	key   []byte
	name  string
	suite *ciphersuite.Suite
	log   *slog.Logger

	approve     ApprovePolicy
	failing     atomic.Bool
	corrupting  atomic.Bool
	duplicating atomic.Bool
	requests    atomic.Int64

	httpSrv *httptest.Server
}

// New starts a mock key server with a fresh master key and a random
// identifier. A nil logger falls back to slog.Default().
func New(name string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key := make([]byte, ciphersuite.PublicKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("could not generate server key: %w", err)
	}

	var id interfaces.ServerID
	if _, err := rand.Read(id[:]); err != nil {
		return nil, fmt.Errorf("could not generate server id: %w", err)
	}

	srv := &Server{
		id:    id,
		key:   key,
		name:  name,
		suite: ciphersuite.New(),
		log:   logger.With(slog.String("key_server", name)),
	}

	mux := chi.NewRouter()
	mux.With(srv.httpLogger).Post(interfaces.FetchKeyPath, srv.handleFetchKey)
	srv.httpSrv = httptest.NewServer(mux)

	return srv, nil
}

func (s *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(s.log, next)
}

// Record returns the directory record clients resolve for this server.
func (s *Server) Record() *interfaces.KeyServerRecord {
	return &interfaces.KeyServerRecord{
		ID:        s.id,
		Name:      s.name,
		URL:       s.httpSrv.URL,
		PublicKey: append([]byte(nil), s.key...),
	}
}

// ID returns the server's directory identifier.
func (s *Server) ID() interfaces.ServerID {
	return s.id
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.httpSrv.URL
}

// SetFailing toggles failure injection: while failing, every request is
// answered with 503.
func (s *Server) SetFailing(failing bool) {
	s.failing.Store(failing)
}

// SetCorrupting toggles malformed responses: while corrupting, released
// shares are flipped so they fail client-side verification.
func (s *Server) SetCorrupting(corrupting bool) {
	s.corrupting.Store(corrupting)
}

// SetDuplicating toggles duplicate shares: while duplicating, every response
// carries the same decryption key twice.
func (s *Server) SetDuplicating(duplicating bool) {
	s.duplicating.Store(duplicating)
}

// SetApprovePolicy installs a policy hook evaluated after signature checks.
func (s *Server) SetApprovePolicy(policy ApprovePolicy) {
	s.approve = policy
}

// Requests returns how many fetch-key requests the server has received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpSrv.Close()
}

func (s *Server) handleFetchKey(w http.ResponseWriter, r *http.Request) {
	s.requests.Inc()

	if s.failing.Load() {
		writeError(w, http.StatusServiceUnavailable, "server unavailable")
		return
	}

	var request interfaces.FetchKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	approvalPayload, err := base64.StdEncoding.DecodeString(request.Ptb)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed approval payload encoding")
		return
	}

	packageID, itemID, err := ParseApproval(approvalPayload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed approval payload")
		return
	}

	if status, reason := s.verifyRequest(&request, approvalPayload, packageID); status != 0 {
		writeError(w, status, reason)
		return
	}

	if s.approve != nil {
		if err := s.approve(packageID, itemID, request.Certificate); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
	}

	fullID := s.suite.FullID(packageID, itemID)
	releaseKey := ciphersuite.DeriveShareKey(s.key, fullID)

	encryptedKey, err := ciphersuite.EncapsulateShare(rand.Reader, request.EncKey, releaseKey)
	if err != nil {
		s.log.Error("could not encapsulate share", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "encapsulation failed")
		return
	}

	if s.corrupting.Load() {
		encryptedKey[len(encryptedKey)-1] ^= 0xff
	}

	response := interfaces.FetchKeyResponse{
		DecryptionKeys: []interfaces.DecryptionKey{
			{ID: fullID, EncryptedKey: encryptedKey},
		},
	}
	if s.duplicating.Load() {
		response.DecryptionKeys = append(response.DecryptionKeys, response.DecryptionKeys[0])
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(&response); err != nil {
		s.log.Error("could not write response", slog.Any("err", err))
	}
}

// verifyRequest performs the checks a production key server runs before
// policy evaluation: request signature by the session key, certificate TTL
// bounds and expiry, and the user's signature over the canonical session
// message. Returns a non-zero HTTP status on failure.
func (s *Server) verifyRequest(request *interfaces.FetchKeyRequest, approvalPayload []byte, packageID interfaces.PackageID) (int, string) {
	cert := request.Certificate

	if len(cert.SessionVerifyingKey) != ed25519.PublicKeySize {
		return http.StatusUnauthorized, "invalid session verifying key"
	}

	body, err := session.EncodeRequestBody(approvalPayload, request.EncKey, request.EncVerificationKey)
	if err != nil {
		return http.StatusBadRequest, "cannot rebuild request body"
	}
	if !ed25519.Verify(ed25519.PublicKey(cert.SessionVerifyingKey), body, request.RequestSignature) {
		return http.StatusUnauthorized, "invalid request signature"
	}

	if cert.TTLMinutes < session.MinTTLMinutes || cert.TTLMinutes > session.MaxTTLMinutes {
		return http.StatusBadRequest, "certificate ttl out of bounds"
	}

	expiry := time.UnixMilli(int64(cert.CreationTime)).Add(time.Duration(cert.TTLMinutes) * time.Minute)
	if time.Now().After(expiry) {
		return http.StatusUnauthorized, "certificate expired"
	}

	message := session.SignedMessage(packageID, ed25519.PublicKey(cert.SessionVerifyingKey), cert.CreationTime, cert.TTLMinutes)
	signer, err := session.RecoverPersonalSigner([]byte(message), cert.Signature)
	if err != nil || signer != cert.User {
		return http.StatusUnauthorized, "invalid certificate signature"
	}

	return 0, ""
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

// approvalPayload is the canonical approval body the mock policy understands:
// the package and item the requester wants keys for.
type approvalPayload struct {
	PackageID interfaces.PackageID
	ID        []byte
}

// Approval encodes an approval payload for packageID and id.
func Approval(packageID interfaces.PackageID, id []byte) ([]byte, error) {
	return rlp.EncodeToBytes(&approvalPayload{PackageID: packageID, ID: id})
}

// ParseApproval decodes an approval payload.
func ParseApproval(data []byte) (interfaces.PackageID, []byte, error) {
	var payload approvalPayload
	if err := rlp.DecodeBytes(data, &payload); err != nil {
		return interfaces.PackageID{}, nil, errors.New("malformed approval payload")
	}
	return payload.PackageID, payload.ID, nil
}
