/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package mediastack

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

var videoRTCPFeedback = []webrtc.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// DefaultCodecs returns the built-in codec table. It contains the H.264
// constrained baseline, baseline and main profiles at level 3.1 in both
// packetization modes, VP8 and Opus.
func DefaultCodecs() []codecs.CodecCapability {
	return []codecs.CodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, FmtpLine: "minptime=10;useinbandfec=1", PayloadType: 111},

		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=4d001f", PayloadType: 123},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=4d001f", PayloadType: 122},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f", PayloadType: 125},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=42e01f", PayloadType: 108},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f", PayloadType: 102},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000, FmtpLine: "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=42001f", PayloadType: 127},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000, PayloadType: 96},
	}
}

// Options configure a Provider.
type Options struct {
	Logger logrus.FieldLogger

	// UsePionDefaultCodecs registers pion's default codecs instead of the
	// built-in codec table.
	UsePionDefaultCodecs bool

	// Codecs replaces the built-in codec table if not empty.
	Codecs []codecs.CodecCapability
}

// Provider reads codec capabilities from a pion media engine. It implements
// negotiation.CapabilityProvider.
type Provider struct {
	logger  logrus.FieldLogger
	options *Options
}

// NewProvider creates a Provider with the provided options.
func NewProvider(options *Options) (*Provider, error) {
	if options == nil {
		options = &Options{}
	}

	p := &Provider{
		logger:  options.Logger,
		options: options,
	}
	if p.logger == nil {
		p.logger = logrus.New()
	}

	// Validate once, so configuration errors surface at startup.
	if _, err := p.newMediaEngine(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	if p.options.UsePionDefaultCodecs {
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("failed to register default codecs: %w", err)
		}
		return m, nil
	}

	table := p.options.Codecs
	if len(table) == 0 {
		table = DefaultCodecs()
	}
	for _, c := range table {
		var typ webrtc.RTPCodecType
		var feedback []webrtc.RTCPFeedback
		switch c.Kind() {
		case codecs.KindAudio:
			typ = webrtc.RTPCodecTypeAudio
		case codecs.KindVideo:
			typ = webrtc.RTPCodecTypeVideo
			feedback = videoRTCPFeedback
		default:
			return nil, fmt.Errorf("unsupported codec mime type %q", c.MimeType)
		}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     c.MimeType,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				SDPFmtpLine:  c.FmtpLine,
				RTCPFeedback: feedback,
			},
			PayloadType: webrtc.PayloadType(c.PayloadType),
		}, typ); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", c.MimeType, err)
		}
	}

	return m, nil
}

// Capabilities creates a fresh media engine and peer connection and returns
// the codecs its audio and video receivers accept, audio first.
func (p *Provider) Capabilities() ([]codecs.CodecCapability, error) {
	m, err := p.newMediaEngine()
	if err != nil {
		return nil, err
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(p.logger),
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	defer func() {
		if closeErr := pc.Close(); closeErr != nil {
			p.logger.WithError(closeErr).Warnln("failed to close capability peer connection")
		}
	}()

	var result []codecs.CodecCapability
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		transceiver, transceiverErr := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if transceiverErr != nil {
			return nil, fmt.Errorf("failed to add %s transceiver: %w", kind, transceiverErr)
		}
		for _, codec := range transceiver.Receiver().GetParameters().Codecs {
			result = append(result, codecs.CodecCapability{
				MimeType:    codec.MimeType,
				ClockRate:   codec.ClockRate,
				Channels:    codec.Channels,
				FmtpLine:    codec.SDPFmtpLine,
				PayloadType: codecs.PayloadType(codec.PayloadType),
			})
		}
	}

	return result, nil
}
