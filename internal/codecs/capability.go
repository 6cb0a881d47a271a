/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package codecs

import (
	"strings"

	"stash.kopano.io/kwm/kwmwhip/internal/fmtp"
)

// Media kinds as used in SDP media sections.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// PayloadType identifies a codec configuration in RTP and SDP. The engine
// treats it as opaque.
type PayloadType uint8

// CodecCapability describes one codec offered by the local media stack. It
// is a value and never modified by the negotiation engine.
type CodecCapability struct {
	MimeType    string      `json:"mimeType"`
	ClockRate   uint32      `json:"clockRate"`
	Channels    uint16      `json:"channels,omitempty"`
	FmtpLine    string      `json:"sdpFmtpLine,omitempty"`
	PayloadType PayloadType `json:"payloadType"`
}

// Kind returns the media kind from the mime type, lower case.
func (c CodecCapability) Kind() string {
	idx := strings.Index(c.MimeType, "/")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(c.MimeType[:idx])
}

// Name returns the encoding name part of the mime type, as used in rtpmap.
func (c CodecCapability) Name() string {
	idx := strings.Index(c.MimeType, "/")
	if idx < 0 {
		return c.MimeType
	}
	return c.MimeType[idx+1:]
}

// Params returns the parsed fmtp parameters.
func (c CodecCapability) Params() fmtp.Params {
	return fmtp.Parse(c.FmtpLine)
}

// Capabilities is an ordered, static list of codec capabilities.
type Capabilities []CodecCapability

// Capabilities returns a copy of the associated list.
func (caps Capabilities) Capabilities() ([]CodecCapability, error) {
	result := make([]CodecCapability, len(caps))
	copy(result, caps)
	return result, nil
}

// ByKind returns the capabilities of the provided media kind in input order.
func ByKind(caps []CodecCapability, kind string) []CodecCapability {
	result := make([]CodecCapability, 0, len(caps))
	for _, c := range caps {
		if c.Kind() == kind {
			result = append(result, c)
		}
	}
	return result
}
