/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"errors"
	"fmt"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

var (
	// ErrInvalidOffer is returned when a received offer is empty or cannot be
	// parsed as session description with at least one media section.
	ErrInvalidOffer = errors.New("invalid offer")

	// ErrNoMatchingCodec is returned when the policy does not select any of
	// the available codecs for an offered media section.
	ErrNoMatchingCodec = codecs.ErrNoMatchingCodec

	// ErrInvalidStateTransition is returned when an operation is invoked on a
	// session which is not in the state the operation requires.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// StateTransitionError describes a rejected operation.
type StateTransitionError struct {
	Event string
	State string
}

func (err *StateTransitionError) Error() string {
	return fmt.Sprintf("%s: event %s not allowed in state %s", ErrInvalidStateTransition, err.Event, err.State)
}

func (err *StateTransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
