/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts negotiation activity. A nil Metrics is valid and counts
// nothing.
type Metrics struct {
	sessions    prometheus.Counter
	transitions *prometheus.CounterVec
	failures    *prometheus.CounterVec
}

// NewMetrics creates Metrics and registers them with the provided registerer
// if it is not nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "negotiation",
			Name:      "sessions_total",
			Help:      "Total number of created negotiation sessions",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiation",
			Name:      "transitions_total",
			Help:      "Total number of negotiation session state transitions",
		}, []string{"event", "state"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "negotiation",
			Name:      "failures_total",
			Help:      "Total number of failed negotiation sessions by reason",
		}, []string{"reason"}),
	}

	if registerer != nil {
		registerer.MustRegister(m.sessions, m.transitions, m.failures)
	}

	return m
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) transition(event, state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event, state).Inc()
}

func (m *Metrics) failure(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(FailureReason(err)).Inc()
}

// FailureReason returns a short label for the cause of a failed
// negotiation.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidOffer):
		return "invalid_offer"
	case errors.Is(err, ErrNoMatchingCodec):
		return "no_matching_codec"
	case errors.Is(err, ErrInvalidStateTransition):
		return "invalid_state_transition"
	default:
		return "other"
	}
}
