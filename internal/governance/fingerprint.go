package governance

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Fingerprint identifies a side-effecting action. Capability and resource
// are case-folded; arguments are re-encoded so key order and whitespace do
// not matter.
func Fingerprint(capability, resource string, args []byte) string {
	h := sha256.New()
	h.Write([]byte(normalize(capability)))
	h.Write([]byte{0})
	h.Write([]byte(normalize(resource)))
	h.Write([]byte{0})
	h.Write(canonicalJSON(args))
	return hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// canonicalJSON decodes and re-encodes args; encoding/json writes map keys
// in sorted order. Payloads that are not valid JSON are used as-is.
func canonicalJSON(args []byte) []byte {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return []byte("null")
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}
