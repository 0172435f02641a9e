package disputepack

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"wagerlane/pkg/domain"
	"wagerlane/pkg/proofhash"
)

// Input carries everything known about a disputed challenge at pack time.
// Dispute and Decision are optional so packs can be cut before resolution.
type Input struct {
	Challenge domain.Challenge
	Proofs    []domain.ProofSubmission
	Votes     []domain.Vote
	Dispute   *domain.DisputeRecord
	Decision  *domain.SettlementDecision
	RequestID string
	Now       time.Time
}

// Build assembles a deterministic dispute pack: artifact payloads keyed by
// type, a manifest sorted by (artifact_type, artifact_id), and the manifest
// and pack hashes over canonical JSON. Two packs built from the same records
// hash identically regardless of input ordering.
func Build(in Input) (PackV1, error) {
	if strings.TrimSpace(in.Challenge.ChallengeID) == "" {
		return PackV1{}, fmt.Errorf("disputepack: challenge_id required")
	}

	proofs := append([]domain.ProofSubmission(nil), in.Proofs...)
	sort.Slice(proofs, func(i, j int) bool { return proofs[i].ProofID < proofs[j].ProofID })
	votes := append([]domain.Vote(nil), in.Votes...)
	sort.Slice(votes, func(i, j int) bool { return votes[i].VoterID < votes[j].VoterID })

	artifacts := map[string]any{
		"challenge": in.Challenge,
		"proofs":    proofs,
		"votes":     votes,
	}
	if in.Dispute != nil {
		artifacts["dispute"] = *in.Dispute
	}
	if in.Decision != nil {
		artifacts["decision"] = *in.Decision
	}

	rawArtifacts := make(map[string]json.RawMessage, len(artifacts))
	manifest := make([]ManifestArtifact, 0, len(artifacts))
	for artifactType, payload := range artifacts {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return PackV1{}, fmt.Errorf("disputepack: encode %s: %w", artifactType, err)
		}
		var generic any
		if err := json.Unmarshal(encoded, &generic); err != nil {
			return PackV1{}, fmt.Errorf("disputepack: decode %s: %w", artifactType, err)
		}
		hexHash, _, err := proofhash.SumObject(generic)
		if err != nil {
			return PackV1{}, fmt.Errorf("disputepack: hash %s: %w", artifactType, err)
		}
		rawArtifacts[artifactType] = json.RawMessage(encoded)
		manifest = append(manifest, ManifestArtifact{
			ArtifactType: artifactType,
			ArtifactID:   artifactType + ":" + in.Challenge.ChallengeID,
			SHA256:       hexHash,
			HashRule:     manifestHashRule,
		})
	}
	sort.Slice(manifest, func(i, j int) bool {
		if manifest[i].ArtifactType != manifest[j].ArtifactType {
			return manifest[i].ArtifactType < manifest[j].ArtifactType
		}
		return manifest[i].ArtifactID < manifest[j].ArtifactID
	})

	pack := PackV1{
		PackVersion: PackVersion,
		GeneratedAt: in.Now.UTC().Format(time.RFC3339),
		RequestID:   in.RequestID,
		Challenge: PackChallenge{
			ChallengeID: in.Challenge.ChallengeID,
			Status:      string(in.Challenge.Status),
			Stake:       in.Challenge.Stake,
			DueAt:       in.Challenge.DueAt.UTC().Format(time.RFC3339),
		},
		Manifest: ManifestV1{
			Canonicalization: CanonicalizationV1{
				JSON:             "encoding/json",
				Encoding:         "utf-8",
				ManifestHashRule: manifestHashRule,
				PackHashRule:     packHashRule,
			},
			Artifacts: manifest,
		},
		Artifacts: rawArtifacts,
	}
	if in.Dispute != nil {
		pack.Challenge.DisputeReason = string(in.Dispute.Reason)
	}

	// Hash the manifest through a generic decode so keys are sorted the
	// same way verification sees them after a round trip through JSON.
	manifestBytes, err := json.Marshal(pack.Manifest)
	if err != nil {
		return PackV1{}, fmt.Errorf("disputepack: encode manifest: %w", err)
	}
	var manifestGeneric any
	if err := json.Unmarshal(manifestBytes, &manifestGeneric); err != nil {
		return PackV1{}, fmt.Errorf("disputepack: decode manifest: %w", err)
	}
	manifestHex, _, err := proofhash.SumObject(manifestGeneric)
	if err != nil {
		return PackV1{}, fmt.Errorf("disputepack: hash manifest: %w", err)
	}
	pack.Hashes.ManifestHash = manifestHex
	pack.Hashes.PackHash = computePackHash(pack.PackVersion, pack.Challenge.ChallengeID, manifest)
	return pack, nil
}

func computePackHash(packVersion, challengeID string, artifacts []ManifestArtifact) string {
	var b strings.Builder
	b.WriteString(packVersion)
	b.WriteString("\n")
	b.WriteString(challengeID)
	b.WriteString("\n")
	for _, a := range artifacts {
		b.WriteString(a.ArtifactID)
		b.WriteString(":")
		b.WriteString(a.SHA256)
		b.WriteString("\n")
	}
	return proofhash.SumString(b.String())
}
