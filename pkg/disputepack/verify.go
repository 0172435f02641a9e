package disputepack

import (
	"encoding/json"
	"strings"

	"wagerlane/pkg/proofhash"
)

// VerifyPackJSON re-derives every hash in a serialized dispute pack and
// reports the first mismatch. It never returns an error for bad input,
// only for hashing failures; malformed packs come back as a Result.
func VerifyPackJSON(packBytes []byte) (Result, error) {
	var pack PackV1
	var rawRoot map[string]any
	if err := json.Unmarshal(packBytes, &pack); err != nil {
		return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "invalid_json"}}, nil
	}
	if err := json.Unmarshal(packBytes, &rawRoot); err != nil {
		return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "invalid_json"}}, nil
	}
	if strings.TrimSpace(pack.Challenge.ChallengeID) == "" ||
		strings.TrimSpace(pack.Hashes.PackHash) == "" ||
		strings.TrimSpace(pack.Hashes.ManifestHash) == "" ||
		pack.Manifest.Artifacts == nil ||
		pack.Artifacts == nil {
		return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "missing_required_fields"}}, nil
	}
	if pack.PackVersion != PackVersion {
		return Result{Status: StatusUnsupportedPackVersion, Details: map[string]any{"pack_version": pack.PackVersion}}, nil
	}
	if pack.Manifest.Canonicalization.ManifestHashRule != manifestHashRule ||
		pack.Manifest.Canonicalization.PackHashRule != packHashRule {
		return Result{
			Status: StatusUnsupportedPackVersion,
			Details: map[string]any{
				"manifest_hash_rule": pack.Manifest.Canonicalization.ManifestHashRule,
				"pack_hash_rule":     pack.Manifest.Canonicalization.PackHashRule,
			},
		}, nil
	}

	seen := map[string]struct{}{}
	for i, item := range pack.Manifest.Artifacts {
		if strings.TrimSpace(item.ArtifactType) == "" || strings.TrimSpace(item.ArtifactID) == "" || strings.TrimSpace(item.SHA256) == "" {
			return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "manifest_artifact_missing_fields", "index": i}}, nil
		}
		if item.HashRule != manifestHashRule {
			return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "manifest_artifact_hash_rule_invalid", "artifact_type": item.ArtifactType, "hash_rule": item.HashRule}}, nil
		}
		k := item.ArtifactType + "\x00" + item.ArtifactID
		if _, ok := seen[k]; ok {
			return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "duplicate_manifest_artifact", "artifact_type": item.ArtifactType, "artifact_id": item.ArtifactID}}, nil
		}
		seen[k] = struct{}{}
		if i > 0 {
			prev := pack.Manifest.Artifacts[i-1]
			if prev.ArtifactType > item.ArtifactType || (prev.ArtifactType == item.ArtifactType && prev.ArtifactID > item.ArtifactID) {
				return Result{Status: StatusInvalidOrdering, Details: map[string]any{"index": i, "artifact_type": item.ArtifactType, "artifact_id": item.ArtifactID}}, nil
			}
		}
	}

	for _, item := range pack.Manifest.Artifacts {
		raw, ok := pack.Artifacts[item.ArtifactType]
		if !ok {
			return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "artifact_payload_missing", "artifact_type": item.ArtifactType}}, nil
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "artifact_payload_invalid_json", "artifact_type": item.ArtifactType}}, nil
		}
		computedHex, _, err := proofhash.SumObject(generic)
		if err != nil {
			return Result{}, err
		}
		if computedHex != item.SHA256 {
			return Result{
				Status: StatusInvalidArtifactHash,
				Details: map[string]any{
					"artifact_type": item.ArtifactType,
					"artifact_id":   item.ArtifactID,
					"expected":      item.SHA256,
					"computed":      computedHex,
				},
			}, nil
		}
	}

	manifestObj, ok := rawRoot["manifest"]
	if !ok {
		return Result{Status: StatusMalformedPack, Details: map[string]any{"reason": "missing_manifest"}}, nil
	}
	computedManifestHex, _, err := proofhash.SumObject(manifestObj)
	if err != nil {
		return Result{}, err
	}
	if computedManifestHex != pack.Hashes.ManifestHash {
		return Result{
			Status: StatusInvalidManifestHash,
			Details: map[string]any{
				"expected": pack.Hashes.ManifestHash,
				"computed": computedManifestHex,
			},
		}, nil
	}

	computedPackHex := computePackHash(pack.PackVersion, pack.Challenge.ChallengeID, pack.Manifest.Artifacts)
	if computedPackHex != pack.Hashes.PackHash {
		return Result{
			Status: StatusInvalidPackHash,
			Details: map[string]any{
				"expected": pack.Hashes.PackHash,
				"computed": computedPackHex,
			},
		}, nil
	}

	return Result{Status: StatusVerified}, nil
}
