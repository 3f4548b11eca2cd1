// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/tidebridge/relay/chain"
	"github.com/tidebridge/relay/finality"
)

const (
	endorsedHashLength   = 32
	endorsementSigLength = 65
	endorsementLength    = endorsedHashLength + endorsementSigLength
)

// ParseEndorsement unpacks the finality endorsement the PoA engine embeds at
// the tail of a header's extra data: a 32-byte endorsed ancestor hash followed
// by the authority's 65-byte signature over it. Headers without an endorsement
// (including the endorsed header itself, which cannot sign its own hash)
// return nil.
func ParseEndorsement(header *gethTypes.Header) (*HeaderEndorsement, error) {
	if len(header.Extra) < endorsementLength {
		return nil, nil
	}

	tail := header.Extra[len(header.Extra)-endorsementLength:]

	var endorsed chain.Hash
	copy(endorsed[:], tail[:endorsedHashLength])
	signature := make([]byte, endorsementSigLength)
	copy(signature, tail[endorsedHashLength:])

	author, err := finality.RecoverSealer(endorsed, signature)
	if err != nil {
		return nil, fmt.Errorf("recover endorsing authority: %w", err)
	}

	return &HeaderEndorsement{
		Endorsed:  endorsed,
		Author:    author,
		Signature: signature,
	}, nil
}

// HeaderEndorsement is one header's embedded vote for an ancestor's finality.
type HeaderEndorsement struct {
	Endorsed  chain.Hash
	Author    common.Address
	Signature []byte
}

// MakeEndorsementExtra builds the extra-data suffix for an endorsement. Used
// by tests and tooling that fabricate sealed headers.
func MakeEndorsementExtra(endorsed chain.Hash, signature []byte) ([]byte, error) {
	if len(signature) != endorsementSigLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", endorsementSigLength, len(signature))
	}
	extra := make([]byte, 0, endorsementLength)
	extra = append(extra, endorsed[:]...)
	extra = append(extra, signature...)
	return extra, nil
}
