package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/slyt3/GetItDone/internal/assert"
	"github.com/ucarion/jcs"
)

const hashHexLen = 64

// ChainHash returns hex(SHA-256(prevHash || JCS(payload))).
// JCS (RFC 8785) makes the digest independent of map key order and platform.
func ChainHash(prevHash string, payload interface{}) (string, error) {
	if err := assert.Check(len(prevHash) == hashHexLen, "prev_hash must be %d hex chars, got %d", hashHexLen, len(prevHash)); err != nil {
		return "", err
	}
	if err := assert.Check(payload != nil, "payload must not be nil"); err != nil {
		return "", err
	}

	// Round-trip through encoding/json so JCS sees only plain JSON types.
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var normalized interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", fmt.Errorf("normalizing payload: %w", err)
	}
	canonical, err := jcs.Format(normalized)
	if err != nil {
		return "", fmt.Errorf("canonicalizing payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(canonical))
	return hex.EncodeToString(h.Sum(nil)), nil
}
