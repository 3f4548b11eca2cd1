// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package sr25519

import (
	"crypto/rand"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/snowfork/go-substrate-rpc-client/v4/signature"
)

// Keypair signs Substrate extrinsics.
type Keypair struct {
	keyringPair *signature.KeyringPair
}

func GenerateKeypair(network uint8) (*Keypair, error) {
	data := make([]byte, 32)
	_, err := rand.Read(data)
	if err != nil {
		return nil, err
	}
	return NewKeypairFromSeed("//"+hexutil.Encode(data), network)
}

// NewKeypairFromSeed derives a keypair from a secret URI for the given
// ss58 network.
func NewKeypairFromSeed(seed string, network uint8) (*Keypair, error) {
	kp, err := signature.KeyringPairFromSecret(seed, network)
	if err != nil {
		return nil, err
	}
	return &Keypair{&kp}, nil
}

// AsKeyringPair returns the underlying KeyringPair
func (kp *Keypair) AsKeyringPair() *signature.KeyringPair {
	return kp.keyringPair
}

// Address returns the ss58 formatted address
func (kp *Keypair) Address() string {
	return kp.keyringPair.Address
}

// PublicKey returns the public key hex encoded
func (kp *Keypair) PublicKey() string {
	return hexutil.Encode(kp.keyringPair.PublicKey)
}
