/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package service

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kwm/kwmwhip/signaling"
	"stash.kopano.io/kwm/kwmwhip/signaling/odata"
	"stash.kopano.io/kwm/kwmwhip/signaling/whip"
	"stash.kopano.io/kwm/kwmwhip/signaling/wsrtc"
)

const (
	URIPrefix = "/api/kwm/v0"
)

// HTTPService binds the HTTP router with handlers for kwm API v0.
type HTTPService struct {
	logger   logrus.FieldLogger
	services *signaling.Services
}

// NewHTTPService creates a new HTTPService with the provided options.
func NewHTTPService(ctx context.Context, logger logrus.FieldLogger, services *signaling.Services) *HTTPService {
	return &HTTPService{
		logger:   logger,
		services: services,
	}
}

// AddRoutes configures the services HTTP end point routing on the provided
// context and router.
func (h *HTTPService) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	v0 := router.PathPrefix(URIPrefix).Subrouter()

	if whipm, ok := h.services.WHIPManager.(*whip.Manager); ok {
		// /api/kwm/v0/whip/:stream
		// /api/kwm/v0/whep/:stream
		// /api/kwm/v0/resources
		// /api/kwm/v0/resources/:resource
		v0.Handle("/whip/{streamID}", chain.ThenFunc(whipm.HTTPPublishHandler)).Methods(http.MethodPost)
		v0.Handle("/whep/{streamID}", chain.ThenFunc(whipm.HTTPSubscribeHandler)).Methods(http.MethodPost)
		v0.Handle("/resources", chain.Append(odata.WithOData).ThenFunc(whipm.HTTPResourcesHandler)).Methods(http.MethodGet)
		v0.Handle("/resources/{resourceID}", chain.Append(odata.WithOData).ThenFunc(whipm.HTTPResourceHandler))
	}

	if wsrtcm, ok := h.services.WSRTCManager.(*wsrtc.Manager); ok {
		// /api/kwm/v0/websocket
		v0.Handle("/websocket", chain.ThenFunc(wsrtcm.HTTPWebsocketHandler)).Methods(http.MethodGet)
	}

	return router
}

// NumActive returns the number of the currently active connections at the
// associated HTTPService.
func (h *HTTPService) NumActive() (active uint64) {
	for _, service := range h.services.Services() {
		active += service.NumActive()
	}

	return active
}
