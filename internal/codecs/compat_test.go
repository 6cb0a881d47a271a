/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package codecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompatible(t *testing.T) {
	h264 := func(fmtpLine string) CodecCapability {
		return CodecCapability{MimeType: "video/H264", ClockRate: 90000, FmtpLine: fmtpLine}
	}

	for _, tc := range []struct {
		name     string
		a, b     CodecCapability
		expected bool
	}{
		{"h264 level ignored", h264("profile-level-id=4d001f;packetization-mode=1"), h264("packetization-mode=1;profile-level-id=4d0032"), true},
		{"h264 profile differs", h264("profile-level-id=4d001f;packetization-mode=1"), h264("profile-level-id=42e01f;packetization-mode=1"), false},
		{"h264 packetization mode differs", h264("profile-level-id=42e01f;packetization-mode=1"), h264("profile-level-id=42e01f"), false},
		{"h264 defaults", h264("packetization-mode=0;profile-level-id=42000a"), h264(""), true},
		{"mime type case", h264(""), CodecCapability{MimeType: "video/h264", ClockRate: 90000}, true},
		{"mime type differs", h264(""), CodecCapability{MimeType: "video/VP8", ClockRate: 90000}, false},
		{"vp9 default profile", CodecCapability{MimeType: "video/VP9", FmtpLine: "profile-id=0"}, CodecCapability{MimeType: "video/VP9", ClockRate: 90000}, true},
		{"vp9 profile differs", CodecCapability{MimeType: "video/VP9", FmtpLine: "profile-id=2"}, CodecCapability{MimeType: "video/VP9"}, false},
		{"av1 profile differs", CodecCapability{MimeType: "video/AV1", FmtpLine: "profile=1"}, CodecCapability{MimeType: "video/AV1"}, false},
		{"opus defaults", CodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 2, FmtpLine: "minptime=10;useinbandfec=1"}, CodecCapability{MimeType: "audio/opus"}, true},
		{"opus channels differ", CodecCapability{MimeType: "audio/opus", ClockRate: 48000, Channels: 1}, CodecCapability{MimeType: "audio/opus"}, false},
		{"clock rate differs", CodecCapability{MimeType: "audio/PCMU", ClockRate: 16000}, CodecCapability{MimeType: "audio/PCMU"}, false},
		{"conflicting param", CodecCapability{MimeType: "audio/opus", FmtpLine: "stereo=1"}, CodecCapability{MimeType: "audio/opus", FmtpLine: "stereo=0;useinbandfec=1"}, false},
	} {
		assert.Equal(t, tc.expected, Compatible(tc.a, tc.b), tc.name)
		assert.Equal(t, tc.expected, Compatible(tc.b, tc.a), tc.name)
	}
}
