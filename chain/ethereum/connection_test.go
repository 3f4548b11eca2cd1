// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package ethereum

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/tidebridge/relay/chain"
)

func TestRevertErrorIsPermanent(t *testing.T) {
	hash := common.HexToHash("0x01")

	err := revertError(hash, errors.New("execution reverted: invalid proof"))
	assert.Equal(t, chain.KindPermanent, chain.Classify(err))
	assert.Contains(t, err.Error(), "invalid proof")

	// Reverts without a replayable reason are still permanent.
	assert.Equal(t, chain.KindPermanent, chain.Classify(revertError(hash, nil)))
}

func TestWatchErrorClassificationSurvivesWrapping(t *testing.T) {
	hash := common.HexToHash("0x01")

	// Polling failures arrive unclassified and must keep the retry path when
	// callers wrap them.
	rpcErr := fmt.Errorf("watch confirmation transaction %s: %w", hash.Hex(), errors.New("connection reset"))
	assert.Equal(t, chain.KindTransient, chain.Classify(rpcErr))

	wrappedRevert := fmt.Errorf("watch confirmation transaction %s: %w", hash.Hex(), revertError(hash, nil))
	assert.Equal(t, chain.KindPermanent, chain.Classify(wrappedRevert))
}
