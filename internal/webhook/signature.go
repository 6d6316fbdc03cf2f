package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ReplayWindow is the maximum allowed clock skew between the signed timestamp
// and verification time.
const ReplayWindow = 300 * time.Second

var (
	// ErrMissingCredential is returned when the signature or timestamp header
	// is absent.
	ErrMissingCredential = errors.New("missing signature or timestamp")
	// ErrStaleRequest is returned when the signed timestamp falls outside the
	// replay window.
	ErrStaleRequest = errors.New("request too old")
	// ErrBadSignature is returned when the supplied signature does not match
	// the expected HMAC.
	ErrBadSignature = errors.New("invalid signature")
)

// Verifier authenticates inbound webhook requests using a shared secret.
// The signature covers "{timestamp}.{rawBody}" so it must be computed over
// the exact bytes received, before any JSON decoding or reserialization.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Verify decides ACCEPT (nil) or REJECT (a sentinel error) for a request.
// signature and timestamp are the raw header values; body is the unparsed
// request body.
func (v *Verifier) Verify(signature, timestamp string, body []byte) error {
	if strings.TrimSpace(signature) == "" || strings.TrimSpace(timestamp) == "" {
		return ErrMissingCredential
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrStaleRequest
	}

	skew := v.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(ReplayWindow/time.Second) {
		return ErrStaleRequest
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	supplied := strings.TrimPrefix(signature, "sha256=")

	// ConstantTimeCompare returns 0 on length mismatch without erroring,
	// which is exactly the reject-on-mismatch behavior we need.
	if subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) != 1 {
		return ErrBadSignature
	}

	return nil
}

// Sign computes the hex signature for a timestamp and body. Used by the
// manual sync tooling and by tests to produce valid requests.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
