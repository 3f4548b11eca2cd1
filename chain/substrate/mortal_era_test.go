// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMortalEra(t *testing.T) {
	era := NewMortalEra(64)
	assert.True(t, era.IsMortalEra)
	// Period 64 encodes as log2(64)-1 = 5 in the low nibble, phase 0.
	assert.Equal(t, byte(5), era.AsMortalEra.First)
	assert.Equal(t, byte(0), era.AsMortalEra.Second)

	era = NewMortalEra(100)
	assert.True(t, era.IsMortalEra)
	// Phase 100 % 64 = 36.
	assert.Equal(t, byte((5|uint16(36)<<4)&0xFF), era.AsMortalEra.First)
	assert.Equal(t, byte((5|uint16(36)<<4)>>8), era.AsMortalEra.Second)
}
