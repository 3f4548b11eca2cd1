// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package finality

import (
	"fmt"

	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	"github.com/tidebridge/relay/chain"
)

// GrandpaPrecommit is a single voter's precommit within a commit.
type GrandpaPrecommit struct {
	TargetHash   types.H256
	TargetNumber types.U32
}

// GrandpaSignedPrecommit pairs a precommit with its voter signature.
type GrandpaSignedPrecommit struct {
	Precommit GrandpaPrecommit
	Signature types.Signature
	ID        types.H256
}

// GrandpaCommit aggregates the precommits of one finality round.
type GrandpaCommit struct {
	TargetHash   types.H256
	TargetNumber types.U32
	Precommits   []GrandpaSignedPrecommit
}

// GrandpaJustification is the finality evidence a Substrate chain attaches to
// blocks under the FRNK consensus engine. The relay decodes only the
// envelope: full vote validation is the target-chain verifier's job. The raw
// bytes are forwarded as received.
type GrandpaJustification struct {
	Round           types.U64
	Commit          GrandpaCommit
	VotesAncestries []types.Header

	raw []byte
}

func (j *GrandpaJustification) Kind() string {
	return "grandpa"
}

func (j *GrandpaJustification) Target() chain.HeaderID {
	var hash chain.Hash
	copy(hash[:], j.Commit.TargetHash[:])
	return chain.HeaderID{
		Number: uint64(j.Commit.TargetNumber),
		Hash:   hash,
	}
}

// Raw returns the justification exactly as received from the source chain.
func (j *GrandpaJustification) Raw() []byte {
	return j.raw
}

// DecodeGrandpaJustification parses the justification envelope from its SCALE
// encoding.
func DecodeGrandpaJustification(raw []byte) (*GrandpaJustification, error) {
	var decoded struct {
		Round  types.U64
		Commit struct {
			TargetHash   types.H256
			TargetNumber types.U32
			Precommits   []GrandpaSignedPrecommit
		}
		VotesAncestries []types.Header
	}
	err := types.DecodeFromBytes(raw, &decoded)
	if err != nil {
		return nil, fmt.Errorf("decode grandpa justification: %w", err)
	}

	return &GrandpaJustification{
		Round: decoded.Round,
		Commit: GrandpaCommit{
			TargetHash:   decoded.Commit.TargetHash,
			TargetNumber: decoded.Commit.TargetNumber,
			Precommits:   decoded.Commit.Precommits,
		},
		VotesAncestries: decoded.VotesAncestries,
		raw:             raw,
	}, nil
}

// SupermajorityThreshold is the vote count GRANDPA needs to finalize: with f
// = (n-1)/3 tolerated faults, n-f voters must precommit.
func SupermajorityThreshold(setSize int) int {
	return setSize - (setSize-1)/3
}

// CheckSupermajority is a cheap precheck before submission. It saves the
// transaction fee for justifications that cannot possibly pass the target
// verifier; passing it is not a substitute for on-chain validation.
func CheckSupermajority(j *GrandpaJustification, setSize int) error {
	votes := len(j.Commit.Precommits)
	if votes < SupermajorityThreshold(setSize) {
		return chain.Permanent(fmt.Errorf(
			"justification for %s has %d precommits, need %d of %d voters",
			j.Target(), votes, SupermajorityThreshold(setSize), setSize,
		))
	}

	// Every precommit must vote for the commit target or one of the
	// declared ancestry blocks; the envelope check only covers the direct
	// target case for votes with no ancestry path.
	if len(j.VotesAncestries) == 0 {
		for i, pc := range j.Commit.Precommits {
			if pc.Precommit.TargetHash != j.Commit.TargetHash {
				return chain.Permanent(fmt.Errorf(
					"precommit %d votes for %s outside the declared ancestry",
					i, pc.Precommit.TargetHash.Hex(),
				))
			}
		}
	}

	return nil
}
