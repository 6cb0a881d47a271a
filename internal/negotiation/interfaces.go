/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

// CapabilityProvider supplies the codecs the local media stack can receive
// or send. It is asked on every negotiation.
type CapabilityProvider interface {
	Capabilities() ([]codecs.CodecCapability, error)
}

// TransportDescriber supplies the transport attributes for an answer.
type TransportDescriber interface {
	DescribeTransport(sessionID string) (*TransportDescription, error)
}

// Fingerprint is a certificate fingerprint as used in the fingerprint
// attribute.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// TransportDescription holds the attributes added to every accepted media
// section of an answer.
type TransportDescription struct {
	ICEUfrag     string
	ICEPwd       string
	ICELite      bool
	Fingerprints []Fingerprint
	Setup        string
	Candidates   []string
}
