/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package wsrtc

// Message types.
const (
	TypeHello  = "hello"
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypeError  = "error"
	TypeBye    = "bye"
)

// Error codes only used by the websocket API.
const (
	ErrorCodeUnknownMessageType = "ErrorUnknownMessageType"
	ErrorCodeInvalidMessage     = "ErrorInvalidMessage"
	ErrorCodeRoleMismatch       = "ErrorRoleMismatch"
)

// Message is the envelope of all messages exchanged on the websocket.
type Message struct {
	Type string `json:"type"`

	ID      string `json:"id,omitempty"`
	SDP     string `json:"sdp,omitempty"`
	Role    string `json:"role,omitempty"`
	Session string `json:"session,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
