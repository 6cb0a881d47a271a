/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package whip

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"stash.kopano.io/kwm/kwmwhip/internal/bpool"
	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
	api "stash.kopano.io/kwm/kwmwhip/signaling/api-v0"
)

const sdpContentType = "application/sdp"

// ResourceResource is the JSON representation of a WHIP or WHEP resource.
type ResourceResource struct {
	*negotiation.ExchangeResource

	StreamID string    `json:"stream_id"`
	Location string    `json:"location"`
	When     time.Time `json:"when"`
}

func newResourceResource(record *resourceRecord) *ResourceResource {
	return &ResourceResource{
		ExchangeResource: record.exchange.Resource(),

		StreamID: record.streamID,
		Location: record.location,
		When:     record.when,
	}
}

func (m *Manager) writeError(rw http.ResponseWriter, err error) {
	if writeErr := api.WriteErrorAsJSON(rw, err); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json error")
	}
}

func (m *Manager) authorize(req *http.Request) bool {
	if len(m.config.WHIPTokens) == 0 {
		return true
	}

	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return false
	}
	token := []byte(strings.TrimPrefix(auth, "Bearer "))
	for _, allowed := range m.config.WHIPTokens {
		if subtle.ConstantTimeCompare(token, []byte(allowed)) == 1 {
			return true
		}
	}
	return false
}

// HTTPPublishHandler handles WHIP offers.
func (m *Manager) HTTPPublishHandler(rw http.ResponseWriter, req *http.Request) {
	m.handleOffer(rw, req, negotiation.RolePublish)
}

// HTTPSubscribeHandler handles WHEP offers.
func (m *Manager) HTTPSubscribeHandler(rw http.ResponseWriter, req *http.Request) {
	m.handleOffer(rw, req, negotiation.RoleSubscribe)
}

func (m *Manager) handleOffer(rw http.ResponseWriter, req *http.Request, role negotiation.Role) {
	if !m.authorize(req) {
		m.writeUnauthorized(rw)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != sdpContentType {
		m.writeError(rw, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeUnsupportedContentType,
			fmt.Sprintf("The request content type must be %s", sdpContentType),
			api.ErrUnsupportedMediaType,
		))
		return
	}

	offer, err := bpool.ReadAll(req.Body, m.maxOfferSize)
	if err != nil {
		if errors.Is(err, bpool.ErrTooLarge) {
			m.writeError(rw, api.NewErrorWithCodeAndMessage(
				api.ErrorCodeBodyTooLarge,
				"The offer is too large",
				api.ErrTooLarge,
			))
			return
		}
		m.logger.WithError(err).Debugln("failed to read offer")
		m.writeError(rw, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeInvalidOffer,
			"Failed to read offer",
			api.ErrBadRequest,
		))
		return
	}

	streamID, _ := api.GetRequestVar(req, "streamID")
	exchange, err := m.newExchange(role, streamID)
	if err != nil {
		m.logger.WithError(err).Errorln("failed to create exchange")
		m.writeError(rw, err)
		return
	}

	answer, err := exchange.HandleOffer(offer)
	if err != nil {
		m.logger.WithError(err).WithField("stream", streamID).Infoln("offer rejected")
		m.writeError(rw, api.NewErrorFromNegotiation(err))
		return
	}

	record := &resourceRecord{
		exchange: exchange,
		streamID: streamID,
		location: resourceLocation(req.URL.Path, exchange.ID()),
		when:     time.Now(),
	}
	m.add(record)

	rw.Header().Set("Content-Type", sdpContentType)
	rw.Header().Set("Location", record.location)
	rw.Header().Set("ETag", fmt.Sprintf(`"%s"`, exchange.Current().ID()))
	rw.WriteHeader(http.StatusCreated)
	if _, writeErr := rw.Write([]byte(answer)); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write answer")
	}
}

// resourceLocation returns the resource path next to the offer path, which
// is {prefix}/{whip,whep}/{streamID}.
func resourceLocation(offerPath string, id string) string {
	return path.Join(path.Dir(path.Dir(offerPath)), "resources", id)
}

func (m *Manager) getResourceOrWriteError(resourceID string, rw http.ResponseWriter) *resourceRecord {
	record, ok := m.get(resourceID)
	if !ok {
		m.writeNotFound(rw)
		return nil
	}
	return record
}

func (m *Manager) writeNotFound(rw http.ResponseWriter) {
	m.writeError(rw, api.NewErrorWithCodeAndMessage(
		api.ErrorCodeResourceNotFound,
		"The specified resource was not found",
		api.ErrNotFound,
	))
}

func (m *Manager) writeUnauthorized(rw http.ResponseWriter) {
	rw.Header().Set("WWW-Authenticate", "Bearer")
	m.writeError(rw, api.NewErrorWithCodeAndMessage(
		api.ErrorCodeUnauthorized,
		"A valid bearer token is required",
		api.ErrUnauthorized,
	))
}

// HTTPResourcesHandler lists resources.
func (m *Manager) HTTPResourcesHandler(rw http.ResponseWriter, req *http.Request) {
	if !m.authorize(req) {
		m.writeUnauthorized(rw)
		return
	}

	resources := make([]interface{}, 0)
	m.resources.IterCb(func(key string, v interface{}) {
		resources = append(resources, newResourceResource(v.(*resourceRecord)))
	})

	if writeErr := api.WriteResourceAsJSON(rw, api.NewCollectionResource(resources, req, nil)); writeErr != nil {
		m.logger.WithError(writeErr).Errorln("failed to write json response")
	}
}

// HTTPResourceHandler handles a single resource.
func (m *Manager) HTTPResourceHandler(rw http.ResponseWriter, req *http.Request) {
	resourceID, _ := api.GetRequestVar(req, "resourceID")

	switch req.Method {
	case http.MethodGet:
		if !m.authorize(req) {
			m.writeUnauthorized(rw)
			return
		}
		record := m.getResourceOrWriteError(resourceID, rw)
		if record == nil {
			return
		}
		if writeErr := api.WriteResourceAsJSON(rw, api.NewItemResource(newResourceResource(record), req)); writeErr != nil {
			m.logger.WithError(writeErr).Errorln("failed to write json response")
		}

	case http.MethodDelete:
		if !m.authorize(req) {
			m.writeUnauthorized(rw)
			return
		}
		if _, ok := m.remove(resourceID); !ok {
			m.writeNotFound(rw)
			return
		}
		rw.WriteHeader(http.StatusOK)

	default:
		// Trickle ICE and ICE restarts are not supported.
		rw.Header().Set("Allow", "GET, DELETE")
		m.writeError(rw, api.NewErrorWithCodeAndMessage(
			api.ErrorCodeMethodNotAllowed,
			fmt.Sprintf("Method %s is not supported for resources", req.Method),
			api.ErrMethodNotAllowed,
		))
	}
}
