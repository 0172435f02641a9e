package disputepack

import "encoding/json"

// PackVersion is the only pack format this package reads or writes.
const PackVersion = "dispute-pack-v1"

type PackV1 struct {
	PackVersion string                     `json:"pack_version"`
	GeneratedAt string                     `json:"generated_at,omitempty"`
	RequestID   string                     `json:"request_id,omitempty"`
	Challenge   PackChallenge              `json:"challenge"`
	Hashes      PackHashes                 `json:"hashes"`
	Manifest    ManifestV1                 `json:"manifest"`
	Artifacts   map[string]json.RawMessage `json:"artifacts"`
}

type PackChallenge struct {
	ChallengeID   string `json:"challenge_id"`
	Status        string `json:"status"`
	Stake         string `json:"stake"`
	DueAt         string `json:"due_at"`
	DisputeReason string `json:"dispute_reason,omitempty"`
}

type PackHashes struct {
	PackHash     string `json:"pack_hash"`
	ManifestHash string `json:"manifest_hash"`
}

type ManifestV1 struct {
	Canonicalization CanonicalizationV1 `json:"canonicalization"`
	Artifacts        []ManifestArtifact `json:"artifacts"`
}

type ManifestArtifact struct {
	ArtifactType string `json:"artifact_type"`
	ArtifactID   string `json:"artifact_id"`
	SHA256       string `json:"sha256"`
	HashRule     string `json:"hash_rule"`
}

type CanonicalizationV1 struct {
	JSON             string `json:"json,omitempty"`
	Encoding         string `json:"encoding,omitempty"`
	ManifestHashRule string `json:"manifest_hash_rule,omitempty"`
	PackHashRule     string `json:"pack_hash_rule,omitempty"`
}

type Result struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	StatusVerified               = "VERIFIED"
	StatusInvalidPackHash        = "INVALID_PACK_HASH"
	StatusInvalidManifestHash    = "INVALID_MANIFEST_HASH"
	StatusInvalidArtifactHash    = "INVALID_ARTIFACT_HASH"
	StatusInvalidOrdering        = "INVALID_ORDERING"
	StatusUnsupportedPackVersion = "UNSUPPORTED_PACK_VERSION"
	StatusMalformedPack          = "MALFORMED_PACK"
)

const (
	manifestHashRule = "canonical_json_sorted_keys_v1"
	packHashRule     = "concat_artifact_hashes_v1"
)
