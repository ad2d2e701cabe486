package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// Logger is the minimal logging surface the verifier needs.
type Logger interface {
	Printf(format string, args ...any)
}

// SecretProvider resolves the shared secret a webhook sender signed with.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// NonceStore remembers signature nonces so a captured notification cannot be
// replayed. UseNonce reports true when the nonce was fresh and is now held
// until expiry, false when it was already seen.
type NonceStore interface {
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore keeps nonces in process memory. Good enough for a single
// instance; multi-instance deployments need a shared store.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewInMemoryNonceStore constructs an empty store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[string]time.Time)}
}

// UseNonce marks the nonce as consumed until expiry. Expired entries are
// swept opportunistically on each call.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: nonce scope and value are required")
	}

	now := time.Now()
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry already passed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(now)

	key := scope + "::" + nonce
	if held, ok := s.seen[key]; ok && held.After(now) {
		return false, nil
	}
	s.seen[key] = expiry
	return true, nil
}

func (s *InMemoryNonceStore) sweepLocked(now time.Time) {
	for key, expiry := range s.seen {
		if expiry.Before(now) {
			delete(s.seen, key)
		}
	}
}

// WebhookVerifier authenticates inbound payment-provider notifications. The
// sender signs METHOD, escaped path, timestamp, nonce and the SHA-256 of the
// body with a shared secret; the verifier recomputes the signature and
// rejects stale timestamps and replayed nonces.
type WebhookVerifier struct {
	secrets SecretProvider
	nonces  NonceStore
	logger  Logger
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration

	cacheMu sync.Mutex
	cache   map[string][]byte
}

// WebhookVerifierOption customises the verifier.
type WebhookVerifierOption func(*WebhookVerifier)

// NewWebhookVerifier builds a verifier over the given secret provider and
// nonce store.
func NewWebhookVerifier(secrets SecretProvider, nonces NonceStore, opts ...WebhookVerifierOption) *WebhookVerifier {
	v := &WebhookVerifier{
		secrets:         secrets,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
		cache:           make(map[string][]byte),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithWebhookLogger overrides the verifier logger.
func WithWebhookLogger(logger Logger) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookClock injects a fixed clock for tests.
func WithWebhookClock(now func() time.Time) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithWebhookHeaders renames the three signature headers.
func WithWebhookHeaders(signature, timestamp, nonce string) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithWebhookClockSkew widens or narrows the accepted timestamp window.
func WithWebhookClockSkew(d time.Duration) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithWebhookNonceTTL sets how long consumed nonces are held.
func WithWebhookNonceTTL(d time.Duration) WebhookVerifierOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// WebhookSignature records the verified signature details for handlers that
// need them, e.g. to echo the provider key into an audit record.
type WebhookSignature struct {
	SecretName string
	Timestamp  time.Time
	Nonce      string
	Signature  []byte
}

type webhookSignatureKey struct{}

// WithWebhookSignature stores the verified signature on the context.
func WithWebhookSignature(ctx context.Context, sig *WebhookSignature) context.Context {
	if sig == nil {
		return ctx
	}
	return context.WithValue(ctx, webhookSignatureKey{}, sig)
}

// WebhookSignatureFromContext retrieves the signature placed by the middleware.
func WebhookSignatureFromContext(ctx context.Context) (*WebhookSignature, bool) {
	sig, ok := ctx.Value(webhookSignatureKey{}).(*WebhookSignature)
	if !ok || sig == nil {
		return nil, false
	}
	return sig, true
}

// verifyReject carries a verification failure to the HTTP edge.
type verifyReject struct {
	status  int
	code    string
	message string
}

// RequireSignature rejects any request whose signature does not verify
// against the named secret.
func (v *WebhookVerifier) RequireSignature(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig, reject := v.verify(r, secretName)
			if reject != nil {
				respondAuthError(w, reject.status, reject.code, reject.message)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithWebhookSignature(r.Context(), sig)))
		})
	}
}

// RequireSignatureResolver picks the secret per request, typically from a
// provider path segment, then verifies like RequireSignature.
func (v *WebhookVerifier) RequireSignatureResolver(resolver func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret resolver not configured")
				return
			}
			secretName, ok := resolver(r)
			if !ok || strings.TrimSpace(secretName) == "" {
				respondAuthError(w, http.StatusUnauthorized, "unknown_provider", "webhook provider not recognised")
				return
			}
			v.RequireSignature(secretName)(next).ServeHTTP(w, r)
		})
	}
}

// verify runs the full check chain and either returns the verified signature
// or the rejection to write back. The request body is restored for the next
// handler.
func (v *WebhookVerifier) verify(r *http.Request, secretName string) (*WebhookSignature, *verifyReject) {
	ctx := r.Context()

	if secretName == "" {
		return nil, &verifyReject{http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured"}
	}

	secret, err := v.loadSecret(ctx, secretName)
	if err != nil {
		v.logf("auth: webhook secret %q lookup failed: %v", secretName, err)
		return nil, &verifyReject{http.StatusServiceUnavailable, "verification_unavailable", "webhook secret unavailable"}
	}

	rawSignature := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if rawSignature == "" {
		return nil, &verifyReject{http.StatusUnauthorized, "signature_missing", "signature header missing"}
	}

	rawTimestamp := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	if rawTimestamp == "" {
		return nil, &verifyReject{http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing"}
	}
	timestamp, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return nil, &verifyReject{http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid"}
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, &verifyReject{http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window"}
	}

	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return nil, &verifyReject{http.StatusUnauthorized, "nonce_missing", "signature nonce missing"}
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, &verifyReject{http.StatusBadRequest, "invalid_body", "unable to read body for signature verification"}
	}

	signature, err := decodeSignature(rawSignature)
	if err != nil {
		return nil, &verifyReject{http.StatusUnauthorized, "signature_invalid", "signature encoding invalid"}
	}

	expected := signPayload(secret, canonicalPayload(r, body, rawTimestamp, nonce))
	if !hmac.Equal(signature, expected) {
		return nil, &verifyReject{http.StatusUnauthorized, "signature_mismatch", "signature verification failed"}
	}

	if v.nonces == nil {
		return nil, &verifyReject{http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable"}
	}
	expiry := timestamp.Add(v.nonceTTL)
	if now := v.now(); expiry.Before(now) {
		expiry = now.Add(v.nonceTTL)
	}
	fresh, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	if err != nil {
		v.logf("auth: nonce store error: %v", err)
		return nil, &verifyReject{http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error"}
	}
	if !fresh {
		return nil, &verifyReject{http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce"}
	}

	return &WebhookSignature{
		SecretName: secretName,
		Timestamp:  timestamp,
		Nonce:      nonce,
		Signature:  signature,
	}, nil
}

func (v *WebhookVerifier) logf(format string, args ...any) {
	if v != nil && v.logger != nil {
		v.logger.Printf(format, args...)
	}
}

func (v *WebhookVerifier) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.secrets == nil {
		return nil, errors.New("auth: secret provider not configured")
	}

	v.cacheMu.Lock()
	cached, ok := v.cache[name]
	v.cacheMu.Unlock()
	if ok && len(cached) > 0 {
		return cached, nil
	}

	raw, err := v.secrets.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}

	secret := []byte(raw)
	v.cacheMu.Lock()
	v.cache[name] = secret
	v.cacheMu.Unlock()
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// decodeSignature accepts base64 or hex, with an optional "sha256=" prefix
// as sent by several payment providers.
func decodeSignature(value string) ([]byte, error) {
	value = strings.TrimPrefix(value, "sha256=")
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

// parseSignatureTimestamp accepts RFC 3339 (with or without fractional
// seconds) or unix seconds.
func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// canonicalPayload is the exact byte sequence both sides sign: method,
// escaped path, timestamp, nonce and the hex SHA-256 of the body, separated
// by newlines.
func canonicalPayload(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	bodyHash := sha256.Sum256(body)

	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(timestamp)
	b.WriteByte('\n')
	b.WriteString(nonce)
	b.WriteByte('\n')
	b.WriteString(hex.EncodeToString(bodyHash[:]))
	return []byte(b.String())
}

func signPayload(secret, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
