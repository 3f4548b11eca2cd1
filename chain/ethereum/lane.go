// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
)

// OutboundLaneABI is the lane contract surface the relay needs: outbound
// state reads, the relayer reward ledger, and confirmation submission.
const OutboundLaneABI = `[
	{"type":"function","name":"latestGeneratedNonce","stateMutability":"view","inputs":[{"name":"laneID","type":"bytes32"}],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"latestReceivedNonce","stateMutability":"view","inputs":[{"name":"laneID","type":"bytes32"}],"outputs":[{"name":"","type":"uint64"}]},
	{"type":"function","name":"rewardOf","stateMutability":"view","inputs":[{"name":"laneID","type":"bytes32"},{"name":"relayer","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"messageCommitment","stateMutability":"view","inputs":[{"name":"laneID","type":"bytes32"},{"name":"nonce","type":"uint64"}],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"submitDeliveryConfirmation","stateMutability":"nonpayable","inputs":[{"name":"laneID","type":"bytes32"},{"name":"proof","type":"bytes"}],"outputs":[]}
]`

// OutboundLane binds the lane contract deployed on the Ethereum source chain.
type OutboundLane struct {
	address  common.Address
	contract *bind.BoundContract
}

func NewOutboundLane(address common.Address, conn *Connection) (*OutboundLane, error) {
	parsed, err := abi.JSON(strings.NewReader(OutboundLaneABI))
	if err != nil {
		return nil, fmt.Errorf("parse lane ABI: %w", err)
	}

	client := conn.Client()
	return &OutboundLane{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, client, client, client),
	}, nil
}

func (l *OutboundLane) Address() common.Address {
	return l.address
}

func (l *OutboundLane) LatestGeneratedNonce(opts *bind.CallOpts, laneID [32]byte) (uint64, error) {
	var out []interface{}
	err := l.contract.Call(opts, &out, "latestGeneratedNonce", laneID)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint64)).(*uint64), nil
}

func (l *OutboundLane) LatestReceivedNonce(opts *bind.CallOpts, laneID [32]byte) (uint64, error) {
	var out []interface{}
	err := l.contract.Call(opts, &out, "latestReceivedNonce", laneID)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint64)).(*uint64), nil
}

func (l *OutboundLane) RewardOf(opts *bind.CallOpts, laneID [32]byte, relayer common.Address) (*big.Int, error) {
	var out []interface{}
	err := l.contract.Call(opts, &out, "rewardOf", laneID, relayer)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (l *OutboundLane) MessageCommitment(opts *bind.CallOpts, laneID [32]byte, nonce uint64) ([32]byte, error) {
	var out []interface{}
	err := l.contract.Call(opts, &out, "messageCommitment", laneID, nonce)
	if err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

func (l *OutboundLane) SubmitDeliveryConfirmation(opts *bind.TransactOpts, laneID [32]byte, proof []byte) (*gethTypes.Transaction, error) {
	return l.contract.Transact(opts, "submitDeliveryConfirmation", laneID, proof)
}
