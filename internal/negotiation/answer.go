/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"strings"

	"github.com/pion/sdp/v3"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

func buildAnswer(plan []*sectionPlan, desc *TransportDescription) (string, []codecs.CodecCapability, error) {
	sd, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return "", nil, err
	}

	var answered []codecs.CodecCapability
	var bundle []string

	for _, p := range plan {
		md := sdp.NewJSEPMediaDescription(p.kind, []string{})
		if len(p.protos) > 0 {
			md.MediaName.Protos = p.protos
		}

		if !p.accepted() {
			// Rejected sections echo the offered formats with port zero.
			md.MediaName.Port = sdp.RangedPort{Value: 0}
			md.MediaName.Formats = p.formats
			md.WithValueAttribute(sdp.AttrKeyMID, p.mid)
			sd.WithMedia(md)
			continue
		}

		md.WithValueAttribute(sdp.AttrKeyMID, p.mid)
		for _, c := range p.codecs {
			md.WithCodec(uint8(c.PayloadType), c.Name(), c.ClockRate, c.Channels, c.FmtpLine)
		}
		md.WithPropertyAttribute(sdp.AttrKeyRTCPMux)
		md.WithPropertyAttribute(p.direction)
		if desc != nil {
			withTransport(md, desc)
		}

		answered = append(answered, p.codecs...)
		bundle = append(bundle, p.mid)
		sd.WithMedia(md)
	}

	if len(bundle) > 0 {
		sd.WithValueAttribute(sdp.AttrKeyGroup, "BUNDLE "+strings.Join(bundle, " "))
	}
	if desc != nil && desc.ICELite {
		sd.WithPropertyAttribute(sdp.AttrKeyICELite)
	}

	b, err := sd.Marshal()
	if err != nil {
		return "", nil, err
	}

	return string(b), answered, nil
}

func withTransport(md *sdp.MediaDescription, desc *TransportDescription) {
	if desc.ICEUfrag != "" || desc.ICEPwd != "" {
		md.WithICECredentials(desc.ICEUfrag, desc.ICEPwd)
	}
	for _, fp := range desc.Fingerprints {
		md.WithFingerprint(fp.Algorithm, fp.Value)
	}
	if desc.Setup != "" {
		md.WithValueAttribute(sdp.AttrKeyConnectionSetup, desc.Setup)
	}
	for _, candidate := range desc.Candidates {
		md.WithCandidate(candidate)
	}
	if len(desc.Candidates) > 0 {
		md.WithPropertyAttribute(sdp.AttrKeyEndOfCandidates)
	}
}
