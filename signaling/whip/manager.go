/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package whip

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orcaman/concurrent-map"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmwhip/config"
	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
)

const defaultMaxOfferSize = 64 * 1024

// Options configure a Manager's collaborators.
type Options struct {
	Capabilities negotiation.CapabilityProvider
	Transport    negotiation.TransportDescriber
	Metrics      *negotiation.Metrics
}

// Manager handles WHIP and WHEP resources. Each resource is backed by one
// negotiation exchange.
type Manager struct {
	logger logrus.FieldLogger
	ctx    context.Context
	config *cfg.Config

	capabilities negotiation.CapabilityProvider
	transport    negotiation.TransportDescriber
	metrics      *negotiation.Metrics

	maxOfferSize int64

	wg        sync.WaitGroup
	resources cmap.ConcurrentMap

	active prometheus.Gauge
}

type resourceRecord struct {
	exchange *negotiation.Exchange
	streamID string
	location string
	when     time.Time
}

// NewManager creates a Manager which tears down all its resources when the
// provided context is done.
func NewManager(ctx context.Context, config *cfg.Config, options *Options) (*Manager, error) {
	if options == nil || options.Capabilities == nil {
		return nil, errors.New("capability provider cannot be nil")
	}

	m := &Manager{
		logger: config.Logger.WithField("manager", "whip"),
		ctx:    ctx,
		config: config,

		capabilities: options.Capabilities,
		transport:    options.Transport,
		metrics:      options.Metrics,

		maxOfferSize: config.MaxOfferSize,

		resources: cmap.New(),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "whip",
			Name:      "resources_active",
			Help:      "Number of active WHIP and WHEP resources",
		}),
	}
	if m.maxOfferSize <= 0 {
		m.maxOfferSize = defaultMaxOfferSize
	}
	if config.Metrics != nil {
		if err := config.Metrics.Register(m.active); err != nil {
			return nil, err
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-ctx.Done()
		m.closeAll()
	}()

	return m, nil
}

func (m *Manager) newExchange(role negotiation.Role, streamID string) (*negotiation.Exchange, error) {
	return negotiation.NewExchange(&negotiation.ExchangeOptions{
		Role: role,

		Logger: m.logger.WithFields(logrus.Fields{
			"stream": streamID,
			"role":   role,
		}),
		Metrics: m.metrics,

		Capabilities: m.capabilities,
		Transport:    m.transport,
		Policy:       m.config.Policy,
	})
}

func (m *Manager) add(record *resourceRecord) {
	m.resources.Set(record.exchange.ID(), record)
	m.active.Set(float64(m.resources.Count()))
	m.logger.WithFields(logrus.Fields{
		"resource": record.exchange.ID(),
		"stream":   record.streamID,
		"count":    m.resources.Count(),
	}).Infoln("resource created")
}

func (m *Manager) remove(id string) (*resourceRecord, bool) {
	v, exists := m.resources.Pop(id)
	if !exists {
		return nil, false
	}
	record := v.(*resourceRecord)
	if err := record.exchange.Close(); err != nil {
		m.logger.WithError(err).WithField("resource", id).Warnln("failed to close resource exchange")
	}
	m.active.Set(float64(m.resources.Count()))
	m.logger.WithFields(logrus.Fields{
		"resource": id,
		"stream":   record.streamID,
		"count":    m.resources.Count(),
	}).Infoln("resource removed")

	return record, true
}

func (m *Manager) get(id string) (*resourceRecord, bool) {
	v, exists := m.resources.Get(id)
	if !exists {
		return nil, false
	}
	return v.(*resourceRecord), true
}

func (m *Manager) closeAll() {
	for _, id := range m.resources.Keys() {
		m.remove(id)
	}
	m.logger.Debugln("whip manager stopped")
}

// Wait blocks until the manager has stopped.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// NumActive returns the number of active resources.
func (m *Manager) NumActive() uint64 {
	return uint64(m.resources.Count())
}
