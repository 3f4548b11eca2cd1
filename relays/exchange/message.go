// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package exchange

import (
	"bytes"

	gethCommon "github.com/ethereum/go-ethereum/common"
	etypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	etrie "github.com/ethereum/go-ethereum/trie"
	"github.com/snowfork/go-substrate-rpc-client/v4/types"

	log "github.com/sirupsen/logrus"
)

// EventLog is the SCALE form of the lock event as dispatched to the target
// chain.
type EventLog struct {
	Address types.H160
	Topics  []types.H256
	Data    types.Bytes
}

// LockMessage carries one lock event together with the receipt proof placing
// it in a relayed header.
type LockMessage struct {
	EventLog EventLog
	Proof    Proof
}

type Proof struct {
	BlockHash types.H256
	TxIndex   types.U32
	Data      *ProofData
}

type ProofData struct {
	Keys   []types.Bytes
	Values []types.Bytes
}

func NewProofData() *ProofData {
	return &ProofData{
		Keys:   make([]types.Bytes, 0),
		Values: make([]types.Bytes, 0),
	}
}

// For interface ethdb.KeyValueWriter
func (p *ProofData) Put(key []byte, value []byte) error {
	p.Keys = append(p.Keys, types.NewBytes(gethCommon.CopyBytes(key)))
	p.Values = append(p.Values, types.NewBytes(gethCommon.CopyBytes(value)))
	return nil
}

// For interface ethdb.KeyValueWriter
func (p *ProofData) Delete(_ []byte) error {
	return nil
}

// MakeLockMessage builds the dispatchable message for a lock event: the RLP
// form of the log plus a Merkle proof of its receipt against the containing
// header's receipts root.
func MakeLockMessage(event *etypes.Log, receiptsTrie *etrie.Trie) (*LockMessage, error) {
	var buf bytes.Buffer
	err := event.EncodeRLP(&buf)
	if err != nil {
		return nil, err
	}

	receiptKey, err := rlp.EncodeToBytes(uint64(event.TxIndex))
	if err != nil {
		return nil, err
	}

	proof := NewProofData()
	err = receiptsTrie.Prove(receiptKey, proof)
	if err != nil {
		return nil, err
	}

	var convertedTopics []types.H256
	for _, topic := range event.Topics {
		convertedTopics = append(convertedTopics, types.H256(topic))
	}

	m := LockMessage{
		EventLog: EventLog{
			Address: types.H160(event.Address),
			Topics:  convertedTopics,
			Data:    event.Data,
		},
		Proof: Proof{
			BlockHash: types.NewH256(event.BlockHash.Bytes()),
			TxIndex:   types.NewU32(uint32(event.TxIndex)),
			Data:      proof,
		},
	}

	log.WithFields(log.Fields{
		"blockHash": event.BlockHash.Hex(),
		"txHash":    event.TxHash.Hex(),
		"txIndex":   event.TxIndex,
	}).Debug("Generated lock message from event")

	return &m, nil
}
