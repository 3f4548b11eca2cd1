// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package secp256k1

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const PrivateKeyLength = 32

// Keypair signs Ethereum transactions and PoA seals.
type Keypair struct {
	public  *ecdsa.PublicKey
	private *ecdsa.PrivateKey
}

func NewKeypairFromPrivateKey(priv []byte) (*Keypair, error) {
	pk, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		return nil, err
	}

	return &Keypair{
		public:  pk.Public().(*ecdsa.PublicKey),
		private: pk,
	}, nil
}

// NewKeypairFromString parses a hex-encoded private key.
func NewKeypairFromString(priv string) (*Keypair, error) {
	pk, err := ethcrypto.HexToECDSA(priv)
	if err != nil {
		return nil, err
	}

	return &Keypair{
		public:  pk.Public().(*ecdsa.PublicKey),
		private: pk,
	}, nil
}

func GenerateKeypair() (*Keypair, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}

	return &Keypair{
		public:  priv.Public().(*ecdsa.PublicKey),
		private: priv,
	}, nil
}

// Sign produces a 65-byte [R || S || V] signature over a 32-byte digest.
func (kp *Keypair) Sign(digest []byte) ([]byte, error) {
	return ethcrypto.Sign(digest, kp.private)
}

// Address returns the Ethereum address format
func (kp *Keypair) Address() string {
	return ethcrypto.PubkeyToAddress(*kp.public).String()
}

// CommonAddress returns the Ethereum address in the common.Address format
func (kp *Keypair) CommonAddress() common.Address {
	return ethcrypto.PubkeyToAddress(*kp.public)
}

// PublicKey returns the compressed public key hex encoded
func (kp *Keypair) PublicKey() string {
	return hexutil.Encode(ethcrypto.CompressPubkey(kp.public))
}

// PrivateKey returns the keypair's private key
func (kp *Keypair) PrivateKey() *ecdsa.PrivateKey {
	return kp.private
}
