/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

// offeredSection is the part of an offered media section which is relevant
// to build its answer.
type offeredSection struct {
	index     int
	mid       string
	kind      string
	protos    []string
	formats   []string
	direction string

	// offered are the codecs of the section's formats in offered order.
	// Formats which do not resolve to a codec are left out.
	offered []codecs.CodecCapability
}

func parseOffer(offer string) ([]*offeredSection, error) {
	if strings.TrimSpace(offer) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidOffer)
	}

	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal([]byte(offer)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return nil, fmt.Errorf("%w: no media sections", ErrInvalidOffer)
	}

	sessionDirection := directionOf(sd.Attributes, DirectionSendRecv)

	sections := make([]*offeredSection, 0, len(sd.MediaDescriptions))
	for idx, md := range sd.MediaDescriptions {
		section := &offeredSection{
			index:     idx,
			kind:      strings.ToLower(md.MediaName.Media),
			protos:    md.MediaName.Protos,
			formats:   md.MediaName.Formats,
			direction: directionOf(md.Attributes, sessionDirection),
			offered:   offeredCodecs(md),
		}
		if mid, ok := md.Attribute(sdp.AttrKeyMID); ok && mid != "" {
			section.mid = mid
		} else {
			section.mid = strconv.Itoa(idx)
		}
		sections = append(sections, section)
	}

	return sections, nil
}

func directionOf(attributes []sdp.Attribute, fallback string) string {
	for _, a := range attributes {
		switch a.Key {
		case DirectionSendRecv, DirectionSendOnly, DirectionRecvOnly, DirectionInactive:
			return a.Key
		}
	}
	return fallback
}

func offeredCodecs(md *sdp.MediaDescription) []codecs.CodecCapability {
	kind := strings.ToLower(md.MediaName.Media)
	// Lookup within this section only, payload types are scoped per m-line.
	single := &sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{md},
	}

	result := make([]codecs.CodecCapability, 0, len(md.MediaName.Formats))
	for _, format := range md.MediaName.Formats {
		pt, err := strconv.ParseUint(format, 10, 8)
		if err != nil {
			continue
		}
		codec, err := single.GetCodecForPayloadType(uint8(pt))
		if err != nil || codec.Name == "" {
			continue
		}
		channels, _ := strconv.ParseUint(codec.EncodingParameters, 10, 16)
		result = append(result, codecs.CodecCapability{
			MimeType:    kind + "/" + codec.Name,
			ClockRate:   codec.ClockRate,
			Channels:    uint16(channels),
			FmtpLine:    codec.Fmtp,
			PayloadType: codecs.PayloadType(pt),
		})
	}

	return result
}

// accept maps the selected local codecs onto the offered codecs. Every
// selected codec takes the payload type of the first compatible offered
// codec not taken yet, selected codecs the offer lacks are dropped. The
// selection order is kept.
func (section *offeredSection) accept(selected []codecs.CodecCapability) []codecs.CodecCapability {
	accepted := make([]codecs.CodecCapability, 0, len(selected))
	taken := make(map[codecs.PayloadType]bool)
	for _, c := range selected {
		for _, o := range section.offered {
			if taken[o.PayloadType] || !codecs.Compatible(c, o) {
				continue
			}
			taken[o.PayloadType] = true
			c.PayloadType = o.PayloadType
			accepted = append(accepted, c)
			break
		}
	}

	return accepted
}
