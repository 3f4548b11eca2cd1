// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package finality

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/crypto/secp256k1"
)

type testAuthority struct {
	keypair *secp256k1.Keypair
	address common.Address
}

func makeAuthorities(t *testing.T, n int) []testAuthority {
	t.Helper()
	authorities := make([]testAuthority, n)
	for i := range authorities {
		kp, err := secp256k1.GenerateKeypair()
		require.NoError(t, err)
		authorities[i] = testAuthority{keypair: kp, address: kp.CommonAddress()}
	}
	return authorities
}

func addresses(authorities []testAuthority) StaticAuthorities {
	out := make(StaticAuthorities, len(authorities))
	for i, a := range authorities {
		out[i] = a.address
	}
	return out
}

func signTarget(t *testing.T, a testAuthority, target chain.HeaderID) AuthoritySignature {
	t.Helper()
	sig, err := a.keypair.Sign(target.Hash[:])
	require.NoError(t, err)
	return AuthoritySignature{Authority: a.address, Signature: sig}
}

func makeHeaderID(number uint64, seed byte) chain.HeaderID {
	var hash chain.Hash
	hash[0] = seed
	hash[31] = byte(number)
	return chain.HeaderID{Number: number, Hash: hash}
}

func TestVerifyPoAMajority(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)
	target := makeHeaderID(3, 0xaa)

	// 2-of-3 is a strict majority.
	proof := &PoAProof{
		TargetHeader: target,
		Signatures: []AuthoritySignature{
			signTarget(t, authorities[0], target),
			signTarget(t, authorities[1], target),
		},
	}
	assert.NoError(t, VerifyPoA(proof, provider))
}

func TestVerifyPoAExactThresholdAccepted(t *testing.T) {
	authorities := makeAuthorities(t, 4)
	provider := addresses(authorities)
	target := makeHeaderID(10, 0x01)

	require.Equal(t, 3, MajorityThreshold(len(authorities)))

	proof := &PoAProof{
		TargetHeader: target,
		Signatures: []AuthoritySignature{
			signTarget(t, authorities[0], target),
			signTarget(t, authorities[1], target),
			signTarget(t, authorities[2], target),
		},
	}
	assert.NoError(t, VerifyPoA(proof, provider))
}

func TestVerifyPoAInsufficientSignaturesRejected(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)
	target := makeHeaderID(5, 0x02)

	proof := &PoAProof{
		TargetHeader: target,
		Signatures: []AuthoritySignature{
			signTarget(t, authorities[0], target),
		},
	}
	err := VerifyPoA(proof, provider)
	require.Error(t, err)
	assert.True(t, chain.IsPermanent(err))
}

func TestVerifyPoARejectsStaleAuthoritySet(t *testing.T) {
	current := makeAuthorities(t, 3)
	stale := makeAuthorities(t, 3)
	target := makeHeaderID(7, 0x03)

	// Proof signed by a set that is not active at the target's height.
	proof := &PoAProof{
		TargetHeader: target,
		Signatures: []AuthoritySignature{
			signTarget(t, stale[0], target),
			signTarget(t, stale[1], target),
		},
	}
	err := VerifyPoA(proof, addresses(current))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in the authority set")
}

func TestVerifyPoARejectsUnorderedSignatures(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)
	target := makeHeaderID(9, 0x04)

	proof := &PoAProof{
		TargetHeader: target,
		Signatures: []AuthoritySignature{
			signTarget(t, authorities[1], target),
			signTarget(t, authorities[0], target),
		},
	}
	err := VerifyPoA(proof, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of order")
}

func TestVerifyPoARejectsDuplicateSigner(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)
	target := makeHeaderID(11, 0x05)

	proof := &PoAProof{
		TargetHeader: target,
		Signatures: []AuthoritySignature{
			signTarget(t, authorities[0], target),
			signTarget(t, authorities[0], target),
		},
	}
	err := VerifyPoA(proof, provider)
	require.Error(t, err)
}

type fakeEndorsementReader struct {
	authorities []testAuthority
	t           *testing.T
	// sealerAt maps header number to the index of its sealing authority.
	sealerAt map[uint64]int
	// headers gives the canonical header chain.
	headers map[uint64]chain.HeaderID
	missing uint64
}

func (r *fakeEndorsementReader) Endorsement(_ context.Context, number uint64, target chain.HeaderID) (*Endorsement, error) {
	if r.missing != 0 && number >= r.missing {
		return nil, chain.ErrNotFound
	}
	index, ok := r.sealerAt[number]
	if !ok {
		return nil, chain.ErrNotFound
	}
	authority := r.authorities[index]
	sig, err := authority.keypair.Sign(target.Hash[:])
	if err != nil {
		return nil, err
	}
	return &Endorsement{
		ID:        r.headers[number],
		ParentID:  r.headers[number-1],
		Author:    authority.address,
		Signature: sig,
	}, nil
}

func TestBuildPoAProofCollectsMajority(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)

	headers := make(map[uint64]chain.HeaderID)
	for n := uint64(2); n <= 6; n++ {
		headers[n] = makeHeaderID(n, 0x10)
	}
	target := headers[3]

	reader := &fakeEndorsementReader{
		authorities: authorities,
		t:           t,
		headers:     headers,
		// Validator 0 seals the target, validator 1 the next block.
		sealerAt: map[uint64]int{3: 0, 4: 1, 5: 2},
	}

	proof, err := BuildPoAProof(context.Background(), reader, target, provider)
	require.NoError(t, err)
	require.Len(t, proof.Signatures, 2)

	// The proof must verify against the same snapshot.
	assert.NoError(t, VerifyPoA(proof, provider))
}

func TestBuildPoAProofSkipsRepeatSealers(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)

	headers := make(map[uint64]chain.HeaderID)
	for n := uint64(2); n <= 6; n++ {
		headers[n] = makeHeaderID(n, 0x20)
	}
	target := headers[3]

	reader := &fakeEndorsementReader{
		authorities: authorities,
		t:           t,
		headers:     headers,
		// Validator 0 seals twice in a row; its second seal must not count
		// towards the majority.
		sealerAt: map[uint64]int{3: 0, 4: 0, 5: 1},
	}

	proof, err := BuildPoAProof(context.Background(), reader, target, provider)
	require.NoError(t, err)
	require.Len(t, proof.Signatures, 2)
	assert.NotEqual(t, proof.Signatures[0].Authority, proof.Signatures[1].Authority)
}

func TestBuildPoAProofWaitsForDescendants(t *testing.T) {
	authorities := makeAuthorities(t, 3)
	provider := addresses(authorities)

	headers := make(map[uint64]chain.HeaderID)
	for n := uint64(2); n <= 6; n++ {
		headers[n] = makeHeaderID(n, 0x30)
	}
	target := headers[3]

	reader := &fakeEndorsementReader{
		authorities: authorities,
		t:           t,
		headers:     headers,
		sealerAt:    map[uint64]int{3: 0},
		missing:     4,
	}

	_, err := BuildPoAProof(context.Background(), reader, target, provider)
	require.Error(t, err)
	assert.True(t, chain.IsNotFound(err), fmt.Sprintf("expected not-found, got %v", err))
}
