package proofhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
)

// Content hashes are 256-bit digests of the raw media bytes, computed by the
// upload collaborator before submission: 64 lowercase hex characters.
var reContentHash = regexp.MustCompile(`^[0-9a-f]{64}$`)

func IsWellFormed(contentHash string) bool {
	return reContentHash.MatchString(contentHash)
}

func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func SumString(s string) string {
	return SumBytes([]byte(s))
}

// SumObject hashes json.Marshal(v) bytes with SHA256 hex. Used for decision
// payload and evidence-pack artifact hashing.
func SumObject(v any) (hexHash string, encoded []byte, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return SumBytes(b), b, nil
}
