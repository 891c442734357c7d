// Package onboarding assigns and verifies participant tiers. Three tiers:
// Recite (anyone, consent only), Attest (sealed-artifact holders), Seal
// (multisig governance set). The registrar gates which mesh actions a
// participant identifier may invoke.
package onboarding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/semmesh/pkg/admission"
	"github.com/jllopis/semmesh/pkg/errors"
)

// Tier is a participant permission level.
type Tier int

const (
	TierRecite Tier = 0
	TierAttest Tier = 1
	TierSeal   Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierRecite:
		return "recite"
	case TierAttest:
		return "attest"
	case TierSeal:
		return "seal"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ConsentText is presented to every participant and must be accepted before
// any record is created.
const ConsentText = `CONSENT AND PARTICIPATION AGREEMENT

By participating in the capability mesh, you acknowledge:

1. This is a self-organizing, decentralized system with no central control
2. Your published capabilities and facts become part of a distributed record
3. Participation is voluntary and may be withdrawn at any time
4. All broadcast facts may be visible to every mesh participant
5. Rate limiting applies: maximum 6 concurrent actions per participant

I understand and consent to participate under these terms.`

// Proof carries the evidence for a tier assignment. Tier 1 requires the
// artifact fields, tier 2 the multisig fields; tier 0 needs no proof.
type Proof struct {
	// ArtifactID names a sealed artifact the participant holds.
	ArtifactID string `json:"artifact_id,omitempty"`
	// ArtifactDigest is the hex sha256 of the artifact identifier.
	ArtifactDigest string `json:"artifact_digest,omitempty"`
	// Signers and Signatures form the multisig attestation: one signature
	// per signer, each the hex sha256 of "<signer>_<participant>".
	Signers    []string `json:"signers,omitempty"`
	Signatures []string `json:"signatures,omitempty"`
}

// multisigQuorum is the minimum number of valid signers for tier 2.
const multisigQuorum = 2

// ParticipantRecord is the persisted onboarding state for one identifier.
type ParticipantRecord struct {
	ID              string    `json:"id"`
	Tier            Tier      `json:"tier"`
	ConsentAccepted bool      `json:"consent_accepted"`
	ProofDigest     string    `json:"proof_digest,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TierStats counts participants per tier.
type TierStats struct {
	Tier0 int `json:"tier_0"`
	Tier1 int `json:"tier_1"`
	Tier2 int `json:"tier_2"`
	Total int `json:"total"`
}

// actionMinTier maps each action type to the lowest tier allowed to run it.
var actionMinTier = map[admission.ActionType]Tier{
	admission.ActionRecitation:  TierRecite,
	admission.ActionOnboarding:  TierRecite,
	admission.ActionAttestation: TierAttest,
	admission.ActionBroadcast:   TierAttest,
	admission.ActionSync:        TierAttest,
	admission.ActionSealing:     TierSeal,
	admission.ActionMaintenance: TierSeal,
}

// Registrar onboards participants and answers tier-permission checks. It
// implements admission.TierPolicy.
type Registrar struct {
	store Store
}

// NewRegistrar creates a registrar over the given store. A nil store gets an
// in-memory one.
func NewRegistrar(store Store) *Registrar {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registrar{store: store}
}

// GetConsentText returns the agreement a participant must accept.
func (r *Registrar) GetConsentText() string { return ConsentText }

// Onboard creates or upgrades the participant's record at the requested
// tier. Consent must be accepted, the tier's proof must verify, and tiers
// only move forward; downgrades go through RotateGovernance.
func (r *Registrar) Onboard(ctx context.Context, identifier string, tier Tier, consent bool, proof Proof) (ParticipantRecord, error) {
	if identifier == "" {
		return ParticipantRecord{}, errors.New(errors.CodeInvalidInput, "participant identifier is required", nil)
	}
	if tier < TierRecite || tier > TierSeal {
		return ParticipantRecord{}, errors.New(errors.CodeInvalidInput, "invalid tier", nil).
			WithContext("tier", int(tier))
	}
	if !consent {
		return ParticipantRecord{}, errors.New(errors.CodeInvalidInput, "consent not accepted", nil).
			WithAttribute("participant", identifier)
	}
	if err := verifyProof(identifier, tier, proof); err != nil {
		return ParticipantRecord{}, err
	}

	now := time.Now().UTC()
	record := ParticipantRecord{
		ID:              identifier,
		Tier:            tier,
		ConsentAccepted: true,
		ProofDigest:     proofDigest(identifier, tier, proof),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	existing, err := r.store.Get(ctx, identifier)
	switch {
	case err == nil:
		if tier < existing.Tier {
			return ParticipantRecord{}, errors.New(errors.CodeInvalidInput, "tier downgrade not permitted", nil).
				WithAttribute("participant", identifier).
				WithAttribute("current_tier", existing.Tier.String()).
				WithAttribute("requested_tier", tier.String())
		}
		record.CreatedAt = existing.CreatedAt
	case errors.IsCode(err, errors.CodeNotFound):
		// First onboarding for this identifier.
	default:
		return ParticipantRecord{}, err
	}

	if err := r.store.Put(ctx, record); err != nil {
		return ParticipantRecord{}, err
	}
	slog.Info("participant onboarded", "participant", identifier, "tier", tier.String())
	return record, nil
}

// RotateGovernance is the explicit downgrade path for tier 2 membership
// rotation. It runs off the hot path and only moves seal members to attest.
func (r *Registrar) RotateGovernance(ctx context.Context, identifier string) (ParticipantRecord, error) {
	record, err := r.store.Get(ctx, identifier)
	if err != nil {
		return ParticipantRecord{}, err
	}
	if record.Tier != TierSeal {
		return ParticipantRecord{}, errors.New(errors.CodeInvalidInput, "governance rotation only applies to seal members", nil).
			WithAttribute("participant", identifier).
			WithAttribute("tier", record.Tier.String())
	}
	record.Tier = TierAttest
	record.UpdatedAt = time.Now().UTC()
	if err := r.store.Put(ctx, record); err != nil {
		return ParticipantRecord{}, err
	}
	slog.Info("governance rotation applied", "participant", identifier)
	return record, nil
}

// Get returns the participant's record.
func (r *Registrar) Get(ctx context.Context, identifier string) (ParticipantRecord, error) {
	return r.store.Get(ctx, identifier)
}

// Allowed reports whether the participant's tier permits the action. It
// implements admission.TierPolicy.
func (r *Registrar) Allowed(participantID string, action admission.ActionType) error {
	record, err := r.store.Get(context.Background(), participantID)
	if err != nil {
		return errors.New(errors.CodeUnauthorized, "participant not onboarded", err).
			WithAttribute("participant", participantID)
	}
	if !record.ConsentAccepted {
		return errors.New(errors.CodeUnauthorized, "consent not recorded", nil).
			WithAttribute("participant", participantID)
	}
	min, ok := actionMinTier[action]
	if !ok {
		return errors.New(errors.CodeUnauthorized, "unknown action type", nil).
			WithAttribute("action", string(action))
	}
	if record.Tier < min {
		return errors.New(errors.CodeUnauthorized, "tier does not permit action", nil).
			WithAttribute("participant", participantID).
			WithAttribute("tier", record.Tier.String()).
			WithAttribute("action", string(action))
	}
	return nil
}

// Stats counts onboarded participants per tier.
func (r *Registrar) Stats(ctx context.Context) (TierStats, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return TierStats{}, err
	}
	var stats TierStats
	for _, rec := range records {
		switch rec.Tier {
		case TierRecite:
			stats.Tier0++
		case TierAttest:
			stats.Tier1++
		case TierSeal:
			stats.Tier2++
		}
		stats.Total++
	}
	return stats, nil
}

func verifyProof(identifier string, tier Tier, proof Proof) error {
	switch tier {
	case TierRecite:
		return nil
	case TierAttest:
		if proof.ArtifactID == "" {
			return proofInvalid(identifier, "tier 1 requires an artifact proof")
		}
		if proof.ArtifactDigest != hashHex(proof.ArtifactID) {
			return proofInvalid(identifier, "artifact digest mismatch")
		}
		return nil
	case TierSeal:
		if len(proof.Signers) < multisigQuorum {
			return proofInvalid(identifier, "tier 2 requires a multisig quorum")
		}
		if len(proof.Signatures) != len(proof.Signers) {
			return proofInvalid(identifier, "one signature per signer required")
		}
		for i, signer := range proof.Signers {
			if proof.Signatures[i] != hashHex(signer+"_"+identifier) {
				return proofInvalid(identifier, "invalid signature for signer "+signer)
			}
		}
		return nil
	}
	return proofInvalid(identifier, "unknown tier")
}

func proofInvalid(identifier, reason string) error {
	return errors.New(errors.CodeProofInvalid, reason, nil).
		WithAttribute("participant", identifier)
}

// proofDigest summarizes the accepted proof for the persisted record.
func proofDigest(identifier string, tier Tier, proof Proof) string {
	switch tier {
	case TierAttest:
		return hashHex(identifier + "_" + proof.ArtifactDigest)
	case TierSeal:
		material := identifier
		for _, sig := range proof.Signatures {
			material += "_" + sig
		}
		return hashHex(material)
	}
	return ""
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SignArtifact produces the digest a tier 1 proof must carry for the given
// artifact. Exposed so holders can build proofs without duplicating the
// hashing scheme.
func SignArtifact(artifactID string) string {
	return hashHex(artifactID)
}

// SignMultisig produces the signature a tier 2 signer must contribute for
// the given participant.
func SignMultisig(signer, participant string) string {
	return hashHex(signer + "_" + participant)
}
