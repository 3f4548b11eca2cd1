// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package finality

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Authority is a compressed secp256k1 public key identifying one sealer.
type Authority [33]uint8

// IntoEthereumAddress derives the address the authority seals with.
func (authority Authority) IntoEthereumAddress() (common.Address, error) {
	pub, err := crypto.DecompressPubkey(authority[:])
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
