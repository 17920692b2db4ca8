package docmodel

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"

	"github.com/evalgo/docsync/internal/obs"
)

// GenerateUpdatePatch builds the minimal RFC-6902 forward patch from pre to
// post and the RFC-6902 reverse patch from post to pre, satisfying the
// round-trip law: apply(forward, pre) == post and
// apply(reverse, post) == pre.
func GenerateUpdatePatch(pre, post map[string]interface{}) (forward, reverse []byte, err error) {
	preCanon, err := Canonicalize(pre)
	if err != nil {
		return nil, nil, obs.New(obs.KindInvalidInput, "docmodel.GenerateUpdatePatch", err)
	}
	postCanon, err := Canonicalize(post)
	if err != nil {
		return nil, nil, obs.New(obs.KindInvalidInput, "docmodel.GenerateUpdatePatch", err)
	}

	fwd, err := jsondiff.CompareJSON(preCanon, postCanon)
	if err != nil {
		return nil, nil, obs.New(obs.KindInvalidInput, "docmodel.GenerateUpdatePatch", fmt.Errorf("diff forward: %w", err))
	}
	rev, err := jsondiff.CompareJSON(postCanon, preCanon)
	if err != nil {
		return nil, nil, obs.New(obs.KindInvalidInput, "docmodel.GenerateUpdatePatch", fmt.Errorf("diff reverse: %w", err))
	}

	forwardBytes, err := json.Marshal(fwd)
	if err != nil {
		return nil, nil, obs.New(obs.KindInvalidInput, "docmodel.GenerateUpdatePatch", err)
	}
	reverseBytes, err := json.Marshal(rev)
	if err != nil {
		return nil, nil, obs.New(obs.KindInvalidInput, "docmodel.GenerateUpdatePatch", err)
	}
	return forwardBytes, reverseBytes, nil
}

// Apply applies an RFC-6902 JSON-patch array to content, returning the
// resulting document. Fails (InvalidInput) when a path is missing, a test
// operation fails, or the result is not a JSON object.
func Apply(content map[string]interface{}, patch []byte) (map[string]interface{}, error) {
	docBytes, err := json.Marshal(content)
	if err != nil {
		return nil, obs.New(obs.KindInvalidInput, "docmodel.Apply", err)
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, obs.New(obs.KindInvalidInput, "docmodel.Apply", fmt.Errorf("decode patch: %w", err))
	}

	applied, err := decoded.Apply(docBytes)
	if err != nil {
		return nil, obs.New(obs.KindInvalidInput, "docmodel.Apply", fmt.Errorf("apply patch: %w", err))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(applied, &result); err != nil {
		return nil, obs.New(obs.KindInvalidInput, "docmodel.Apply", fmt.Errorf("result is not a JSON object: %w", err))
	}
	return result, nil
}

// MarshalFullContent encodes content as the forward patch payload used for
// create events.
func MarshalFullContent(content map[string]interface{}) ([]byte, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return nil, obs.New(obs.KindInvalidInput, "docmodel.MarshalFullContent", err)
	}
	return b, nil
}

// UnmarshalFullContent decodes a full-content forward/reverse patch payload
// (used for create/delete events) back into a content map.
func UnmarshalFullContent(payload []byte) (map[string]interface{}, error) {
	var content map[string]interface{}
	if err := json.Unmarshal(payload, &content); err != nil {
		return nil, obs.New(obs.KindInvalidInput, "docmodel.UnmarshalFullContent", err)
	}
	return content, nil
}
