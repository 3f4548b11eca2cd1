// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"bare error defaults to transient", base, KindTransient},
		{"context cancellation defaults to transient", context.Canceled, KindTransient},
		{"context deadline defaults to transient", context.DeadlineExceeded, KindTransient},
		{"transient", Transient(base), KindTransient},
		{"already satisfied", AlreadySatisfied(base), KindAlreadySatisfied},
		{"permanent", Permanent(base), KindPermanent},
		{"fatal", Fatal(base), KindFatal},
		{"wrapped permanent", fmt.Errorf("submit: %w", Permanent(base)), KindPermanent},
		{"wrapped already satisfied", fmt.Errorf("import: %w", AlreadySatisfied(base)), KindAlreadySatisfied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, Classify(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Permanent(fmt.Errorf("query: %w", ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.True(t, IsPermanent(err))
}

func TestHeaderIDString(t *testing.T) {
	var hash Hash
	hash[0] = 0xab
	id := HeaderID{Number: 42, Hash: hash}
	assert.Contains(t, id.String(), "#42")
	assert.Contains(t, id.String(), "0xab")
}
