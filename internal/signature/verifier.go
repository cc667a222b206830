package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version is the Slack request-signing scheme version.
const Version = "v0"

const defaultFreshness = 5 * time.Minute

// ErrAuthentication is returned for every verification failure. Callers
// must not reveal which check failed.
var ErrAuthentication = errors.New("authentication failed")

type VerifierOptions struct {
	SigningSecret string
	// Freshness bounds how far a request timestamp may drift from now,
	// in either direction. Defaults to 5 minutes.
	Freshness time.Duration
	Now       func() time.Time
}

// Verifier checks Slack v0 request signatures.
type Verifier struct {
	secret    []byte
	freshness time.Duration
	nowFn     func() time.Time
}

func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	secret := strings.TrimSpace(opts.SigningSecret)
	if secret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	freshness := opts.Freshness
	if freshness <= 0 {
		freshness = defaultFreshness
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Verifier{
		secret:    []byte(secret),
		freshness: freshness,
		nowFn:     nowFn,
	}, nil
}

// Verify recomputes the expected signature over "v0:{timestamp}:{body}"
// and compares it in constant time. Requests with a timestamp outside the
// freshness window are rejected regardless of signature.
func (v *Verifier) Verify(body []byte, timestamp, sig string) error {
	if v == nil {
		return fmt.Errorf("verifier is not initialized")
	}
	timestamp = strings.TrimSpace(timestamp)
	sig = strings.TrimSpace(sig)
	if timestamp == "" || sig == "" {
		return ErrAuthentication
	}
	ts, err := strconv.ParseFloat(timestamp, 64)
	if err != nil {
		return ErrAuthentication
	}
	drift := v.nowFn().Sub(time.Unix(int64(ts), 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > v.freshness {
		return ErrAuthentication
	}
	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrAuthentication
	}
	return nil
}

// Sign computes the v0 signature header value for the given timestamp and
// raw body. Exposed for outbound callers and test harnesses.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(Version + ":" + timestamp + ":"))
	mac.Write(body)
	return Version + "=" + hex.EncodeToString(mac.Sum(nil))
}
