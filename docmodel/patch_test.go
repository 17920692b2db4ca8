package docmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashStableAcrossKeyOrder(t *testing.T) {
	a := map[string]interface{}{"title": "Hello", "body": "World"}
	b := map[string]interface{}{"body": "World", "title": "Hello"}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestContentHashStableAcrossNumberForm(t *testing.T) {
	a := map[string]interface{}{"count": 1}
	b := map[string]interface{}{"count": 1.0}

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
}

func TestGenerateUpdatePatchRoundTrip(t *testing.T) {
	pre := map[string]interface{}{"title": "A", "body": "World"}
	post := map[string]interface{}{"title": "B", "body": "World"}

	forward, reverse, err := GenerateUpdatePatch(pre, post)
	require.NoError(t, err)

	applied, err := Apply(pre, forward)
	require.NoError(t, err)
	assert.Equal(t, post["title"], applied["title"])
	assert.Equal(t, post["body"], applied["body"])

	restored, err := Apply(applied, reverse)
	require.NoError(t, err)
	assert.Equal(t, pre["title"], restored["title"])
	assert.Equal(t, pre["body"], restored["body"])
}

func TestGenerateUpdatePatchRoundTripReverseFirst(t *testing.T) {
	pre := map[string]interface{}{"title": "A", "tags": []interface{}{"x", "y"}}
	post := map[string]interface{}{"title": "A", "tags": []interface{}{"x", "y", "z"}}

	forward, reverse, err := GenerateUpdatePatch(pre, post)
	require.NoError(t, err)

	back, err := Apply(post, reverse)
	require.NoError(t, err)
	assert.ElementsMatch(t, pre["tags"], back["tags"])

	forth, err := Apply(back, forward)
	require.NoError(t, err)
	assert.ElementsMatch(t, post["tags"], forth["tags"])
}

func TestApplyRejectsNonObjectResult(t *testing.T) {
	content := map[string]interface{}{"title": "A"}
	// A replace of the document root to a scalar is invalid for our model.
	badPatch := []byte(`[{"op":"replace","path":"","value":1}]`)
	_, err := Apply(content, badPatch)
	assert.Error(t, err)
}

func TestFullContentRoundTrip(t *testing.T) {
	content := map[string]interface{}{"title": "Hello", "body": "World"}
	payload, err := MarshalFullContent(content)
	require.NoError(t, err)

	decoded, err := UnmarshalFullContent(payload)
	require.NoError(t, err)
	assert.Equal(t, content["title"], decoded["title"])
	assert.Equal(t, content["body"], decoded["body"])
}
