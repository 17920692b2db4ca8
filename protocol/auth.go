package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Authentication errors, in the sentinel-error style this codebase uses
// elsewhere (auth/errors.go) rather than ad-hoc fmt.Errorf strings.
var (
	ErrClockSkew        = errors.New("authenticate: timestamp skew exceeds allowed window")
	ErrBadSignature     = errors.New("authenticate: signature does not match")
	ErrCredentialInactive = errors.New("authenticate: credential is inactive")
)

// MaxClockSkew is the maximum allowed difference between an authenticate
// frame's timestamp and the server's clock.
const MaxClockSkew = 5 * time.Minute

// Sign computes the HMAC-SHA256 signature a client attaches to an
// authenticate frame.
func Sign(secret, email, apiKey, body string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SigningString(timestamp, email, apiKey, body)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature recomputes the expected signature for frame and compares
// it against frame.Signature in constant time.
func VerifySignature(frame Authenticate, secret string) bool {
	expected := Sign(secret, frame.Email, frame.APIKey, frame.Body, frame.Timestamp)
	return hmac.Equal([]byte(expected), []byte(frame.Signature))
}

// VerifyTimestamp reports whether frame.Timestamp is within MaxClockSkew of
// now.
func VerifyTimestamp(frame Authenticate, now time.Time) bool {
	skew := now.Sub(time.Unix(frame.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= MaxClockSkew
}
