package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignAndVerifySignature(t *testing.T) {
	ts := time.Now().Unix()
	sig := Sign("s3cret", "alice@example.com", "rpa_abc", `{"hello":"world"}`, ts)

	frame := Authenticate{
		Email:     "alice@example.com",
		APIKey:    "rpa_abc",
		Timestamp: ts,
		Body:      `{"hello":"world"}`,
		Signature: sig,
	}

	assert.True(t, VerifySignature(frame, "s3cret"))
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	ts := time.Now().Unix()
	sig := Sign("s3cret", "alice@example.com", "rpa_abc", "{}", ts)

	frame := Authenticate{Email: "alice@example.com", APIKey: "rpa_abc", Timestamp: ts, Body: "{}", Signature: sig}
	assert.False(t, VerifySignature(frame, "wrong-secret"))
}

func TestVerifySignatureRejectsTamperedBody(t *testing.T) {
	ts := time.Now().Unix()
	sig := Sign("s3cret", "alice@example.com", "rpa_abc", "{}", ts)

	frame := Authenticate{Email: "alice@example.com", APIKey: "rpa_abc", Timestamp: ts, Body: `{"tampered":true}`, Signature: sig}
	assert.False(t, VerifySignature(frame, "s3cret"))
}

func TestVerifyTimestampWithinSkew(t *testing.T) {
	now := time.Now()
	frame := Authenticate{Timestamp: now.Add(-2 * time.Minute).Unix()}
	assert.True(t, VerifyTimestamp(frame, now))
}

func TestVerifyTimestampRejectsOutsideSkew(t *testing.T) {
	now := time.Now()
	frame := Authenticate{Timestamp: now.Add(-10 * time.Minute).Unix()}
	assert.False(t, VerifyTimestamp(frame, now))

	future := Authenticate{Timestamp: now.Add(10 * time.Minute).Unix()}
	assert.False(t, VerifyTimestamp(future, now))
}
