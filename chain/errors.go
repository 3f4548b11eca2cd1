// Copyright 2021 Tidebridge Authors
// SPDX-License-Identifier: LGPL-3.0-only

package chain

import (
	"errors"
	"fmt"
)

// Kind classifies a failed chain operation and decides the recovery path:
// transient errors are retried with backoff, already-satisfied errors are
// treated as success, permanent errors are logged and skipped, fatal errors
// abort startup.
type Kind int

const (
	KindTransient Kind = iota
	KindAlreadySatisfied
	KindPermanent
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindAlreadySatisfied:
		return "already-satisfied"
	case KindPermanent:
		return "permanent"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Error wraps an underlying failure with its classification.
type Error struct {
	ErrKind Kind
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNotFound reports that a header, proof or storage item does not exist on
// the queried chain. Callers decide whether that is a wait condition (a proof
// not produced yet) or a permanent failure (a claimed transaction missing).
var ErrNotFound = errors.New("not found on chain")

func Transient(err error) error {
	return &Error{ErrKind: KindTransient, Err: err}
}

func AlreadySatisfied(err error) error {
	return &Error{ErrKind: KindAlreadySatisfied, Err: err}
}

func Permanent(err error) error {
	return &Error{ErrKind: KindPermanent, Err: err}
}

func Fatal(err error) error {
	return &Error{ErrKind: KindFatal, Err: err}
}

// Classify returns the error's recovery class. Unclassified errors default to
// transient: connection drops, RPC timeouts and cancelled contexts rarely
// arrive pre-wrapped, and retrying an unknown failure is always safe for an
// idempotent relay.
func Classify(err error) Kind {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.ErrKind
	}
	return KindTransient
}

func IsTransient(err error) bool {
	return Classify(err) == KindTransient
}

func IsAlreadySatisfied(err error) bool {
	return Classify(err) == KindAlreadySatisfied
}

func IsPermanent(err error) bool {
	return Classify(err) == KindPermanent
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
