/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package transport

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
	"github.com/pion/ice/v4"
	"github.com/pion/randutil"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
)

const (
	iceUfragLength = 16
	icePwdLength   = 32

	iceRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// Offers are expected to use actpass, the answering side is passive.
	setupPassive = "passive"
)

// Options configure a Describer.
type Options struct {
	Logger logrus.FieldLogger

	// Certificate is used for the DTLS fingerprint. A self-signed
	// certificate is generated when nil.
	Certificate *tls.Certificate

	ICELite bool

	// Candidates are static host candidates as host:port for UDP, or
	// tcp://host:port for passive TCP.
	Candidates []string
}

// Describer renders the transport attributes of answers. It implements
// negotiation.TransportDescriber.
type Describer struct {
	logger logrus.FieldLogger

	iceLite      bool
	fingerprints []negotiation.Fingerprint
	candidates   []string
}

// NewDescriber creates a Describer with the provided options.
func NewDescriber(options *Options) (*Describer, error) {
	if options == nil {
		options = &Options{}
	}

	d := &Describer{
		logger:  options.Logger,
		iceLite: options.ICELite,
	}
	if d.logger == nil {
		d.logger = logrus.New()
	}

	certificate := options.Certificate
	if certificate == nil {
		generated, err := selfsign.GenerateSelfSigned()
		if err != nil {
			return nil, fmt.Errorf("failed to generate dtls certificate: %w", err)
		}
		certificate = &generated
		d.logger.Debugln("generated self-signed dtls certificate")
	}
	fp, err := certificateFingerprint(certificate)
	if err != nil {
		return nil, err
	}
	d.fingerprints = []negotiation.Fingerprint{fp}

	for idx, value := range options.Candidates {
		candidate, candidateErr := ParseHostCandidate(value)
		if candidateErr != nil {
			return nil, fmt.Errorf("invalid candidate %d: %w", idx, candidateErr)
		}
		d.candidates = append(d.candidates, candidate.Marshal())
	}

	return d, nil
}

func certificateFingerprint(certificate *tls.Certificate) (negotiation.Fingerprint, error) {
	if len(certificate.Certificate) == 0 {
		return negotiation.Fingerprint{}, errors.New("certificate is empty")
	}
	x509Cert, err := x509.ParseCertificate(certificate.Certificate[0])
	if err != nil {
		return negotiation.Fingerprint{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	algorithm, err := fingerprint.StringFromHash(crypto.SHA256)
	if err != nil {
		return negotiation.Fingerprint{}, err
	}
	value, err := fingerprint.Fingerprint(x509Cert, crypto.SHA256)
	if err != nil {
		return negotiation.Fingerprint{}, fmt.Errorf("failed to create fingerprint: %w", err)
	}

	return negotiation.Fingerprint{
		Algorithm: algorithm,
		Value:     value,
	}, nil
}

// ParseHostCandidate creates a host candidate from host:port (UDP) or
// tcp://host:port (passive TCP).
func ParseHostCandidate(value string) (ice.Candidate, error) {
	network := "udp"
	tcpType := ice.TCPTypeUnspecified
	if strings.HasPrefix(value, "tcp://") {
		network = "tcp"
		tcpType = ice.TCPTypePassive
		value = strings.TrimPrefix(value, "tcp://")
	} else {
		value = strings.TrimPrefix(value, "udp://")
	}

	host, portString, err := net.SplitHostPort(value)
	if err != nil {
		return nil, err
	}
	if net.ParseIP(host) == nil {
		return nil, fmt.Errorf("address %q is not an IP address", host)
	}
	port, err := strconv.ParseUint(portString, 10, 16)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("invalid port %q", portString)
	}

	candidate, err := ice.NewCandidateHost(&ice.CandidateHostConfig{
		Network:   network,
		Address:   host,
		Port:      int(port),
		Component: 1,
		TCPType:   tcpType,
	})
	if err != nil {
		return nil, err
	}

	return candidate, nil
}

// DescribeTransport returns a transport description with fresh ICE
// credentials.
func (d *Describer) DescribeTransport(sessionID string) (*negotiation.TransportDescription, error) {
	ufrag, err := randutil.GenerateCryptoRandomString(iceUfragLength, iceRunes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ice ufrag: %w", err)
	}
	pwd, err := randutil.GenerateCryptoRandomString(icePwdLength, iceRunes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ice pwd: %w", err)
	}

	d.logger.WithField("session", sessionID).Debugln("transport description created")

	return &negotiation.TransportDescription{
		ICEUfrag:     ufrag,
		ICEPwd:       pwd,
		ICELite:      d.iceLite,
		Fingerprints: d.fingerprints,
		Setup:        setupPassive,
		Candidates:   d.candidates,
	}, nil
}
