/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package codecs

import (
	"strings"

	"stash.kopano.io/kwm/kwmwhip/internal/fmtp"
)

var defaultClockRates = map[string]uint32{
	"audio/opus": 48000,
	"audio/pcmu": 8000,
	"audio/pcma": 8000,
}

var defaultChannels = map[string]uint16{
	"audio/opus": 2,
}

// Compatible returns true if a and b describe the same codec configuration,
// so that media sent as one can be received as the other. Payload types are
// not compared.
//
// H.264 compares packetization mode and profile (the level is ignored), VP9
// and AV1 compare their profile. Other codecs require equal values for all
// fmtp parameters present on both sides.
func Compatible(a, b CodecCapability) bool {
	if !strings.EqualFold(a.MimeType, b.MimeType) {
		return false
	}
	mimeType := strings.ToLower(a.MimeType)

	if clockRate(mimeType, a.ClockRate) != clockRate(mimeType, b.ClockRate) {
		return false
	}
	if channels(mimeType, a.Channels) != channels(mimeType, b.Channels) {
		return false
	}

	pa, pb := a.Params(), b.Params()
	switch mimeType {
	case "video/h264":
		// RFC 6184 defaults: baseline profile at level 1 and packetization
		// mode 0.
		return paramOrDefault(pa, "packetization-mode", "0") == paramOrDefault(pb, "packetization-mode", "0") &&
			h264Profile(paramOrDefault(pa, "profile-level-id", "42000a")) == h264Profile(paramOrDefault(pb, "profile-level-id", "42000a"))
	case "video/vp9":
		return paramOrDefault(pa, "profile-id", "0") == paramOrDefault(pb, "profile-id", "0")
	case "video/av1":
		return paramOrDefault(pa, "profile", "0") == paramOrDefault(pb, "profile", "0")
	default:
		for name := range pa {
			va, okA := pa.Get(name)
			vb, okB := pb.Get(name)
			if okA && okB && !strings.EqualFold(va, vb) {
				return false
			}
		}
		return true
	}
}

func clockRate(mimeType string, value uint32) uint32 {
	if value != 0 {
		return value
	}
	if def, ok := defaultClockRates[mimeType]; ok {
		return def
	}
	return 90000
}

func channels(mimeType string, value uint16) uint16 {
	if value == 0 {
		value = defaultChannels[mimeType]
	}
	if value == 0 {
		// A missing channel count means one channel.
		value = 1
	}
	return value
}

func paramOrDefault(params fmtp.Params, name string, def string) string {
	if value, ok := params.Get(name); ok {
		return value
	}
	return def
}

// h264Profile returns the profile_idc and profile-iop part of a
// profile-level-id.
func h264Profile(profileLevelID string) string {
	profileLevelID = strings.ToLower(profileLevelID)
	if len(profileLevelID) < 4 {
		return profileLevelID
	}
	return profileLevelID[:4]
}
