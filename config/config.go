/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package config

import (
	"crypto/tls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

// Config defines a Server's configuration settings.
type Config struct {
	ListenAddr string

	WithMetrics       bool
	MetricsListenAddr string

	Logger logrus.FieldLogger

	Metrics prometheus.Registerer

	// Policy selects the accepted codecs, earlier rules take precedence.
	Policy codecs.MatchPolicy

	// Codecs replaces the built-in codec table of the media stack.
	Codecs               []codecs.CodecCapability
	UsePionDefaultCodecs bool

	DTLSCertificate *tls.Certificate
	ICECandidates   []string
	ICELite         bool

	// WHIPTokens are accepted as bearer tokens, authentication is disabled
	// when empty.
	WHIPTokens []string

	MaxOfferSize int64
}
