/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"errors"
	"fmt"
	"time"

	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

// ExchangeOptions configure a new Exchange.
type ExchangeOptions struct {
	ID   string
	Role Role

	Logger  logrus.FieldLogger
	Metrics *Metrics

	Capabilities CapabilityProvider
	Transport    TransportDescriber
	Policy       codecs.MatchPolicy
}

// Exchange drives offer/answer signaling for one logical connection. Every
// offer creates a new Session, earlier sessions are never touched again.
type Exchange struct {
	mutex deadlock.Mutex

	id      string
	role    Role
	created time.Time

	logger  logrus.FieldLogger
	metrics *Metrics

	capabilities CapabilityProvider
	transport    TransportDescriber
	policy       codecs.MatchPolicy

	current      *Session
	negotiations uint64
	lastErr      error
}

// NewExchange creates an Exchange with the provided options.
func NewExchange(options *ExchangeOptions) (*Exchange, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if options.Capabilities == nil {
		return nil, errors.New("capability provider cannot be nil")
	}
	if len(options.Policy) == 0 {
		return nil, errors.New("policy cannot be empty")
	}

	e := &Exchange{
		id:      options.ID,
		role:    options.Role,
		created: time.Now(),

		metrics: options.Metrics,

		capabilities: options.Capabilities,
		transport:    options.Transport,
		policy:       options.Policy,
	}
	if e.id == "" {
		e.id = guidGenerator.Hex128()
	}
	if e.role == "" {
		e.role = RolePublish
	}
	if options.Logger != nil {
		e.logger = options.Logger.WithField("exchange", e.id)
	} else {
		e.logger = logrus.New().WithField("exchange", e.id)
	}

	return e, nil
}

// HandleOffer negotiates the provided offer on a new session and returns
// the answer.
func (e *Exchange) HandleOffer(offer string) (string, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.negotiations++
	session := NewSession(&SessionOptions{
		Role:    e.role,
		Logger:  e.logger,
		Metrics: e.metrics,
	})

	answer, err := e.negotiate(session, offer)
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) {
			e.logger.WithError(err).Errorln("negotiation session rejected transition, discarding session")
		} else {
			e.logger.WithError(err).Debugln("negotiation failed")
		}
		e.lastErr = err
		return "", err
	}

	e.current = session
	e.lastErr = nil
	e.logger.WithFields(logrus.Fields{
		"session":     session.ID(),
		"negotiation": e.negotiations,
	}).Debugln("answer created")

	return answer, nil
}

func (e *Exchange) negotiate(session *Session, offer string) (string, error) {
	if err := session.ReceiveOffer(offer); err != nil {
		return "", err
	}

	// Sessions can only fail before they are negotiated.
	var desc *TransportDescription
	var err error
	if e.transport != nil {
		desc, err = e.transport.DescribeTransport(session.ID())
		if err != nil {
			return "", session.Fail(fmt.Errorf("failed to describe transport: %w", err))
		}
	}

	caps, err := e.capabilities.Capabilities()
	if err != nil {
		return "", session.Fail(fmt.Errorf("failed to get capabilities: %w", err))
	}
	if err = session.Negotiate(caps, e.policy); err != nil {
		return "", err
	}

	return session.BuildAnswer(desc)
}

// Close closes the current session, if any.
func (e *Exchange) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.current == nil {
		return nil
	}
	if e.current.State() != StateAnswerSent {
		return nil
	}
	return e.current.Close()
}

// Current returns the session of the most recent successful negotiation.
func (e *Exchange) Current() *Session {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.current
}

// ID returns the exchange's ID.
func (e *Exchange) ID() string {
	return e.id
}

// Role returns the exchange's role.
func (e *Exchange) Role() Role {
	return e.role
}

// ExchangeResource is the JSON representation of an Exchange.
type ExchangeResource struct {
	ID           string           `json:"id"`
	Role         Role             `json:"role"`
	Created      time.Time        `json:"created"`
	Negotiations uint64           `json:"negotiations"`
	Session      *SessionResource `json:"session,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// Resource returns the JSON representation of the exchange.
func (e *Exchange) Resource() *ExchangeResource {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	resource := &ExchangeResource{
		ID:           e.id,
		Role:         e.role,
		Created:      e.created,
		Negotiations: e.negotiations,
	}
	if e.current != nil {
		resource.Session = e.current.Resource()
	}
	if e.lastErr != nil {
		resource.Error = e.lastErr.Error()
	}

	return resource
}
