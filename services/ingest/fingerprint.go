package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint digests a mapping's content for duplicate detection.
//
// Fields are taken in the sub-schema's declared order, never in the
// order the extractor happened to emit them, and under their canonical
// snake_case keys, never the on-screen labels. The key field is
// excluded so the same content under a recurring protocollo still
// collides. Fields the extractor did not find are left out entirely,
// which keeps "empty value" and "element missing" apart.
//
// sha256 rather than a fast non-crypto hash: a colliding fingerprint
// silently drops a genuinely new record.
func Fingerprint(schema SubSchema, m *Mapping) string {
	h := sha256.New()
	first := true
	for _, f := range schema.Fields {
		v, ok := m.Get(f)
		if !ok {
			continue
		}
		if !first {
			h.Write([]byte{'|'})
		}
		first = false
		h.Write([]byte(f))
		h.Write([]byte{'='})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}
