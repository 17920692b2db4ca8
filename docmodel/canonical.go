package docmodel

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize serializes JSON content with lexicographically sorted keys,
// no insignificant whitespace, and numbers folded to a canonical int64/
// float64 form. content must be a JSON object; anything else
// fails patch/hash generation.
func Canonicalize(content map[string]interface{}) ([]byte, error) {
	normalized, err := normalize(content)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; strip it so the
	// canonical form has no insignificant whitespace at all.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ContentHash computes the SHA-256 hex digest (lowercase) of the
// canonicalized content.
func ContentHash(content map[string]interface{}) (string, error) {
	canon, err := Canonicalize(content)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// normalize round-trips content through json.Number decoding so that
// map keys marshal sorted (encoding/json already sorts map[string]any keys)
// and numeric literals collapse to one canonical Go representation
// regardless of how they were originally written (e.g. "1.0" and "1" both
// become the same encoded form once decoded to the same Go type).
func normalize(content map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("normalize: content is not serializable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize: content is not a JSON object: %w", err)
	}
	return foldNumbers(out).(map[string]interface{}), nil
}

// foldNumbers walks a decoded JSON value replacing json.Number leaves with
// int64 (no fractional part, fits in 64 bits) or float64 otherwise.
func foldNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = foldNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = foldNumbers(val)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	default:
		return v
	}
}
