// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

// Package finality builds and checks the proof objects that accompany relayed
// headers: ordered validator signatures for proof-of-authority chains and
// GRANDPA justifications for Substrate chains.
package finality

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tidebridge/relay/chain"
)

// AuthoritySignature is one validator's seal over a finalized header.
type AuthoritySignature struct {
	Authority common.Address
	// 65-byte [R || S || V] signature over the sealed header hash.
	Signature []byte
}

// PoAProof finalizes a header once validators controlling a strict majority
// of the authority set at that height have sealed it or built on top of it.
// Signatures are ordered by the signer's index in the authority set so the
// encoding is deterministic.
type PoAProof struct {
	TargetHeader chain.HeaderID
	Signatures   []AuthoritySignature
}

func (p *PoAProof) Kind() string {
	return "poa"
}

func (p *PoAProof) Target() chain.HeaderID {
	return p.TargetHeader
}

// AuthorityProvider resolves the validator set active at a given height. The
// snapshot must match the header's own epoch, not the current one.
type AuthorityProvider interface {
	AuthoritiesAt(number uint64) ([]common.Address, error)
}

// StaticAuthorities is a config-backed authority set that never rotates.
type StaticAuthorities []common.Address

func (s StaticAuthorities) AuthoritiesAt(_ uint64) ([]common.Address, error) {
	return s, nil
}

// MajorityThreshold is the number of distinct signatures a PoA proof needs:
// a strict majority of the authority set.
func MajorityThreshold(setSize int) int {
	return setSize/2 + 1
}

// VerifyPoA recomputes the signer set from the proof's signatures and checks
// it against the authority snapshot at the target header's height. Proofs
// signed by a stale set fail the membership check.
func VerifyPoA(proof *PoAProof, provider AuthorityProvider) error {
	authorities, err := provider.AuthoritiesAt(proof.TargetHeader.Number)
	if err != nil {
		return fmt.Errorf("fetch authority set at %d: %w", proof.TargetHeader.Number, err)
	}

	indexOf := make(map[common.Address]int, len(authorities))
	for i, a := range authorities {
		indexOf[a] = i
	}

	lastIndex := -1
	for i, sig := range proof.Signatures {
		signer, err := RecoverSealer(proof.TargetHeader.Hash, sig.Signature)
		if err != nil {
			return chain.Permanent(fmt.Errorf("recover signer %d: %w", i, err))
		}
		if signer != sig.Authority {
			return chain.Permanent(fmt.Errorf("signature %d claims %s but was signed by %s", i, sig.Authority, signer))
		}
		index, ok := indexOf[signer]
		if !ok {
			return chain.Permanent(fmt.Errorf("signer %s is not in the authority set at height %d", signer, proof.TargetHeader.Number))
		}
		if index <= lastIndex {
			return chain.Permanent(fmt.Errorf("signatures out of order at position %d", i))
		}
		lastIndex = index
	}

	if len(proof.Signatures) < MajorityThreshold(len(authorities)) {
		return chain.Permanent(fmt.Errorf(
			"insufficient signatures: have %d, need %d of %d authorities",
			len(proof.Signatures), MajorityThreshold(len(authorities)), len(authorities),
		))
	}

	return nil
}

// RecoverSealer recovers the sealing authority from a signature over a header
// hash.
func RecoverSealer(headerHash chain.Hash, signature []byte) (common.Address, error) {
	pubkey, err := ethcrypto.SigToPub(headerHash[:], signature)
	if err != nil {
		return common.Address{}, err
	}
	return ethcrypto.PubkeyToAddress(*pubkey), nil
}

// Endorsement is one canonical header's vote for the finality of an
// ancestor: the header's author plus its signature over the ancestor's hash.
// For the finalized header itself the endorsement is its own seal.
type Endorsement struct {
	ID       chain.HeaderID
	ParentID chain.HeaderID
	Author   common.Address
	// Signature over the endorsed (target) header hash.
	Signature []byte
}

// EndorsementReader extracts finality endorsements from the canonical chain.
// The PoA engine embeds them in each header's seal data; the reader owns
// that unpacking.
type EndorsementReader interface {
	Endorsement(ctx context.Context, number uint64, target chain.HeaderID) (*Endorsement, error)
}

// BuildPoAProof collects endorsements of the target header from its own seal
// and its canonical descendants until a strict majority of the authority set
// at the target's height has signed. Returns a NotFound error while too few
// descendants exist for the majority to have accumulated.
func BuildPoAProof(
	ctx context.Context,
	reader EndorsementReader,
	target chain.HeaderID,
	provider AuthorityProvider,
) (*PoAProof, error) {
	authorities, err := provider.AuthoritiesAt(target.Number)
	if err != nil {
		return nil, fmt.Errorf("fetch authority set at %d: %w", target.Number, err)
	}

	indexOf := make(map[common.Address]int, len(authorities))
	for i, a := range authorities {
		indexOf[a] = i
	}
	need := MajorityThreshold(len(authorities))

	collected := make(map[common.Address]AuthoritySignature, need)
	prev := target
	for number := target.Number; len(collected) < need; number++ {
		endorsement, err := reader.Endorsement(ctx, number, target)
		if err != nil {
			return nil, fmt.Errorf("fetch endorsement at %d: %w", number, err)
		}

		// Walking off the canonical descendant line means the chain
		// reorganized under us. The caller restarts from a fresh frontier.
		if number > target.Number && endorsement.ParentID != prev {
			return nil, fmt.Errorf("header %s does not descend from %s", endorsement.ID, prev)
		}
		prev = endorsement.ID

		if _, ok := indexOf[endorsement.Author]; !ok {
			continue
		}
		if _, seen := collected[endorsement.Author]; seen {
			continue
		}
		if len(endorsement.Signature) == 0 {
			continue
		}

		collected[endorsement.Author] = AuthoritySignature{
			Authority: endorsement.Author,
			Signature: endorsement.Signature,
		}
	}

	proof := &PoAProof{TargetHeader: target}
	for _, sig := range collected {
		proof.Signatures = append(proof.Signatures, sig)
	}
	sort.Slice(proof.Signatures, func(i, j int) bool {
		return indexOf[proof.Signatures[i].Authority] < indexOf[proof.Signatures[j].Authority]
	})

	return proof, nil
}
