// Package checksum computes content digests for document payloads, grounded
// on the teacher's crypto/sha256 use for source hashing (cmd/agent.go).
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/synapsd/synapsd/internal/synapserr"
)

// Primary is the checksum algorithm whose digest identifies a document for
// dedup purposes (spec §4.6).
const Primary = "sha256"

// Compute returns the digest set (currently just Primary) over data's
// canonical JSON encoding. encoding/json sorts map keys when marshaling, so
// the digest is stable regardless of map iteration order.
func Compute(data map[string]any) (map[string]string, error) {
	buf, err := json.Marshal(data)
	if err != nil {
		return nil, synapserr.Backend(err)
	}
	sum := sha256.Sum256(buf)
	return map[string]string{Primary: hex.EncodeToString(sum[:])}, nil
}
