/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/rogpeppe/fastuuid"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

var guidGenerator = fastuuid.MustNewGenerator()

// SessionOptions configure a new Session.
type SessionOptions struct {
	ID      string
	Role    Role
	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// sectionPlan is the negotiation result for one offered media section. A
// plan without codecs rejects its section.
type sectionPlan struct {
	*offeredSection

	codecs    []codecs.CodecCapability
	direction string
}

func (p *sectionPlan) accepted() bool {
	return len(p.codecs) > 0
}

// Session is the negotiation state of exactly one offer. Sessions are never
// reused, a new offer always needs a new Session.
type Session struct {
	deadlock.RWMutex

	id      string
	role    Role
	created time.Time

	logger  logrus.FieldLogger
	metrics *Metrics

	fsm *fsm.FSM

	offer        string
	sections     []*offeredSection
	capabilities []codecs.CodecCapability
	plan         []*sectionPlan
	answer       string
	answered     []codecs.CodecCapability
	err          error
}

// NewSession creates a Session in state new.
func NewSession(options *SessionOptions) *Session {
	if options == nil {
		options = &SessionOptions{}
	}

	s := &Session{
		id:      options.ID,
		role:    options.Role,
		created: time.Now(),

		metrics: options.Metrics,
	}
	if s.id == "" {
		s.id = guidGenerator.Hex128()
	}
	if s.role == "" {
		s.role = RolePublish
	}
	if options.Logger != nil {
		s.logger = options.Logger.WithField("session", s.id)
	} else {
		s.logger = logrus.New().WithField("session", s.id)
	}

	s.fsm = newSessionFSM(s.onTransition)
	s.metrics.sessionCreated()

	return s
}

func (s *Session) onTransition(event, src, dst string) {
	s.logger.WithFields(logrus.Fields{
		"event": event,
		"from":  src,
		"to":    dst,
	}).Debugln("negotiation session state change")
	s.metrics.transition(event, dst)
}

func (s *Session) can(event string) error {
	if !s.fsm.Can(event) {
		return &StateTransitionError{
			Event: event,
			State: s.fsm.Current(),
		}
	}
	return nil
}

func (s *Session) event(event string) error {
	if err := s.fsm.Event(context.Background(), event); err != nil {
		return &StateTransitionError{
			Event: event,
			State: s.fsm.Current(),
		}
	}
	return nil
}

// fail moves the session to failed, recording err as the cause. The cause
// is returned unless the transition itself was invalid.
func (s *Session) fail(err error) error {
	if transitionErr := s.event(EventFail); transitionErr != nil {
		return transitionErr
	}
	s.err = err
	s.metrics.failure(err)
	s.logger.WithError(err).Debugln("negotiation session failed")
	return err
}

// Fail moves the session to failed with the provided cause. Use it when a
// collaborator errors before the session could be negotiated.
func (s *Session) Fail(err error) error {
	s.Lock()
	defer s.Unlock()

	if transitionErr := s.can(EventFail); transitionErr != nil {
		return transitionErr
	}
	return s.fail(err)
}

// ReceiveOffer records and validates the provided offer.
func (s *Session) ReceiveOffer(offer string) error {
	s.Lock()
	defer s.Unlock()

	if err := s.can(EventReceiveOffer); err != nil {
		return err
	}

	s.offer = offer
	sections, err := parseOffer(offer)
	if err != nil {
		return s.fail(err)
	}
	s.sections = sections

	return s.event(EventReceiveOffer)
}

// Negotiate selects the codecs for every offered audio and video section
// using the rules of the policy for the section's media kind. The selection
// is then limited to the codecs the section offers, using the offered
// payload types. Sections of kinds without rules are rejected. The session
// fails if a section with rules has no matching codec, or if nothing could
// be negotiated at all.
func (s *Session) Negotiate(caps []codecs.CodecCapability, policy codecs.MatchPolicy) error {
	s.Lock()
	defer s.Unlock()

	if err := s.can(EventNegotiate); err != nil {
		return err
	}

	s.capabilities = make([]codecs.CodecCapability, len(caps))
	copy(s.capabilities, caps)

	plan := make([]*sectionPlan, 0, len(s.sections))
	negotiable := 0
	for _, section := range s.sections {
		p := &sectionPlan{
			offeredSection: section,
		}
		plan = append(plan, p)

		switch section.kind {
		case codecs.KindAudio, codecs.KindVideo:
		default:
			continue
		}
		rules := policy.ForKind(section.kind)
		if len(rules) == 0 {
			s.logger.WithField("mid", section.mid).Debugln("rejecting media section without policy rules")
			continue
		}

		selected, err := codecs.Select(codecs.ByKind(s.capabilities, section.kind), rules)
		if err != nil {
			return s.fail(fmt.Errorf("%s section %s: %w", section.kind, section.mid, err))
		}
		p.codecs = section.accept(selected)
		if !p.accepted() {
			return s.fail(fmt.Errorf("%s section %s does not offer any selected codec: %w", section.kind, section.mid, ErrNoMatchingCodec))
		}
		p.direction = s.role.answerDirection(section.direction)
		negotiable++
	}
	if negotiable == 0 {
		return s.fail(fmt.Errorf("no negotiable media section: %w", ErrNoMatchingCodec))
	}

	s.plan = plan

	return s.event(EventNegotiate)
}

// BuildAnswer renders the answer for the negotiated offer. The transport
// description is optional.
func (s *Session) BuildAnswer(desc *TransportDescription) (string, error) {
	s.Lock()
	defer s.Unlock()

	if err := s.can(EventBuildAnswer); err != nil {
		return "", err
	}

	answer, answered, err := buildAnswer(s.plan, desc)
	if err != nil {
		return "", fmt.Errorf("failed to build answer: %w", err)
	}

	if err = s.event(EventBuildAnswer); err != nil {
		return "", err
	}
	s.answer = answer
	s.answered = answered
	s.plan = nil

	return answer, nil
}

// Close ends a session for which an answer was sent.
func (s *Session) Close() error {
	s.Lock()
	defer s.Unlock()

	if err := s.can(EventClose); err != nil {
		return err
	}
	return s.event(EventClose)
}

// ID returns the session's ID.
func (s *Session) ID() string {
	return s.id
}

// Role returns the session's role.
func (s *Session) Role() Role {
	return s.role
}

// State returns the session's current state.
func (s *Session) State() string {
	s.RLock()
	defer s.RUnlock()
	return s.fsm.Current()
}

// Offer returns the received offer.
func (s *Session) Offer() string {
	s.RLock()
	defer s.RUnlock()
	return s.offer
}

// Answer returns the built answer, empty until state answer-sent.
func (s *Session) Answer() string {
	s.RLock()
	defer s.RUnlock()
	return s.answer
}

// Err returns the cause of a failed session.
func (s *Session) Err() error {
	s.RLock()
	defer s.RUnlock()
	return s.err
}

// Capabilities returns the capabilities used for negotiation.
func (s *Session) Capabilities() []codecs.CodecCapability {
	s.RLock()
	defer s.RUnlock()

	caps := make([]codecs.CodecCapability, len(s.capabilities))
	copy(caps, s.capabilities)
	return caps
}

// ChosenPreferenceOrder returns the payload types of the accepted codecs,
// section by section in offered media order. Every accepted section
// contributes its own list, so a payload type accepted in several sections
// is listed once per section. It is empty unless the session is negotiated.
func (s *Session) ChosenPreferenceOrder() []codecs.PayloadType {
	s.RLock()
	defer s.RUnlock()

	var order []codecs.PayloadType
	for _, p := range s.plan {
		for _, c := range p.codecs {
			order = append(order, c.PayloadType)
		}
	}
	return order
}

// SessionResource is the JSON representation of a Session.
type SessionResource struct {
	ID      string                   `json:"id"`
	Role    Role                     `json:"role"`
	State   string                   `json:"state"`
	Created time.Time                `json:"created"`
	Codecs  []codecs.CodecCapability `json:"codecs,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// Resource returns the JSON representation of the session.
func (s *Session) Resource() *SessionResource {
	s.RLock()
	defer s.RUnlock()

	resource := &SessionResource{
		ID:      s.id,
		Role:    s.role,
		State:   s.fsm.Current(),
		Created: s.created,
		Codecs:  s.answered,
	}
	if resource.Codecs == nil {
		for _, p := range s.plan {
			resource.Codecs = append(resource.Codecs, p.codecs...)
		}
	}
	if s.err != nil {
		resource.Error = s.err.Error()
	}

	return resource
}
