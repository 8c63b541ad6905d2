// ABOUTME: Shared-secret middleware and signed OAuth state for the HTTP surface
// ABOUTME: State carries user, expiry and a nonce under an HMAC so callbacks cannot name arbitrary users
package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	apiKeyHeader = "X-Issuecal-Key"
	stateTTL     = 10 * time.Minute
)

var (
	errStateMalformed = errors.New("malformed state")
	errStateSignature = errors.New("state signature mismatch")
	errStateExpired   = errors.New("state expired")
)

// requireAPIKey rejects requests that do not present the configured key as a
// bearer token or in X-Issuecal-Key. With no key configured every request is
// refused.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			writeError(w, http.StatusServiceUnavailable, errors.New("api key not configured"))
			return
		}
		presented := r.Header.Get(apiKeyHeader)
		if presented == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.apiKey)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="issuecal"`)
			writeError(w, http.StatusUnauthorized, errors.New("invalid api key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// stateSigner issues and checks OAuth state values of the form
// base64url(user|expiry|nonce).base64url(hmac).
type stateSigner struct {
	key []byte
	now func() time.Time
}

func newStateSigner(secret string, now func() time.Time) *stateSigner {
	sum := sha256.Sum256([]byte("issuecal oauth state\x00" + secret))
	return &stateSigner{key: sum[:], now: now}
}

func (s *stateSigner) mac(payload []byte) []byte {
	h := hmac.New(sha256.New, s.key)
	h.Write(payload)
	return h.Sum(nil)
}

func (s *stateSigner) Issue(userID string) string {
	expiry := s.now().Add(stateTTL).Unix()
	payload := []byte(userID + "|" + strconv.FormatInt(expiry, 10) + "|" + uuid.NewString())
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(s.mac(payload))
}

// Verify returns the user id carried by a state issued by Issue.
func (s *stateSigner) Verify(state string) (string, error) {
	encPayload, encSig, ok := strings.Cut(state, ".")
	if !ok {
		return "", errStateMalformed
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(encPayload)
	if err != nil {
		return "", errStateMalformed
	}
	sig, err := enc.DecodeString(encSig)
	if err != nil {
		return "", errStateMalformed
	}
	if !hmac.Equal(sig, s.mac(payload)) {
		return "", errStateSignature
	}

	// User ids may contain "|", so the expiry and nonce are taken from the end.
	fields := strings.Split(string(payload), "|")
	if len(fields) < 3 {
		return "", errStateMalformed
	}
	userID := strings.Join(fields[:len(fields)-2], "|")
	expiry, err := strconv.ParseInt(fields[len(fields)-2], 10, 64)
	if err != nil || userID == "" {
		return "", errStateMalformed
	}
	if s.now().After(time.Unix(expiry, 0)) {
		return "", errStateExpired
	}
	return userID, nil
}
