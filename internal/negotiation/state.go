/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"context"

	"github.com/looplab/fsm"
)

// Session states.
const (
	StateNew           = "new"
	StateOfferReceived = "offer-received"
	StateNegotiated    = "negotiated"
	StateAnswerSent    = "answer-sent"
	StateFailed        = "failed"
	StateClosed        = "closed"
)

// Session events.
const (
	EventReceiveOffer = "receive-offer"
	EventNegotiate    = "negotiate"
	EventBuildAnswer  = "build-answer"
	EventFail         = "fail"
	EventClose        = "close"
)

var sessionEvents = fsm.Events{
	{Name: EventReceiveOffer, Src: []string{StateNew}, Dst: StateOfferReceived},
	{Name: EventNegotiate, Src: []string{StateOfferReceived}, Dst: StateNegotiated},
	{Name: EventBuildAnswer, Src: []string{StateNegotiated}, Dst: StateAnswerSent},
	{Name: EventFail, Src: []string{StateNew, StateOfferReceived}, Dst: StateFailed},
	{Name: EventClose, Src: []string{StateAnswerSent}, Dst: StateClosed},
}

func newSessionFSM(onTransition func(event, src, dst string)) *fsm.FSM {
	return fsm.NewFSM(
		StateNew,
		sessionEvents,
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				onTransition(e.Event, e.Src, e.Dst)
			},
		},
	)
}

// Role selects which side of the media flow the local peer is.
type Role string

// Roles.
const (
	// RolePublish is used for WHIP ingest, the local peer receives media.
	RolePublish Role = "publish"
	// RoleSubscribe is used for WHEP egress, the local peer sends media.
	RoleSubscribe Role = "subscribe"
)

// ParseRole returns the role for the provided string, defaulting to
// RolePublish.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePublish, "":
		return RolePublish, true
	case RoleSubscribe:
		return RoleSubscribe, true
	}
	return RolePublish, false
}

// Media directions.
const (
	DirectionSendRecv = "sendrecv"
	DirectionSendOnly = "sendonly"
	DirectionRecvOnly = "recvonly"
	DirectionInactive = "inactive"
)

// answerDirection returns the direction to answer with for the offered
// direction.
func (role Role) answerDirection(offered string) string {
	switch role {
	case RoleSubscribe:
		switch offered {
		case DirectionSendRecv, DirectionRecvOnly:
			return DirectionSendOnly
		}
	default:
		switch offered {
		case DirectionSendRecv, DirectionSendOnly:
			return DirectionRecvOnly
		}
	}
	return DirectionInactive
}
