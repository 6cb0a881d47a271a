/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package wsrtc

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/orcaman/concurrent-map"
	"github.com/rogpeppe/fastuuid"
	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	cfg "stash.kopano.io/kwm/kwmwhip/config"
	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
)

const (
	websocketSubprotocolName = "kwmwhip-protocol"
	websocketMaxMessageSize  = 1048576 // 1 MiB
)

var guidGenerator = fastuuid.MustNewGenerator()

// Options configure a Manager's collaborators.
type Options struct {
	Capabilities negotiation.CapabilityProvider
	Transport    negotiation.TransportDescriber
	Metrics      *negotiation.Metrics
}

// Manager handles websocket signaling connections.
type Manager struct {
	logger logrus.FieldLogger
	ctx    context.Context
	config *cfg.Config

	options *Options

	wg          sync.WaitGroup
	connections cmap.ConcurrentMap
}

// NewManager creates a Manager. All connections are closed when the provided
// context is done.
func NewManager(ctx context.Context, config *cfg.Config, options *Options) (*Manager, error) {
	if options == nil || options.Capabilities == nil {
		return nil, errors.New("capability provider cannot be nil")
	}

	m := &Manager{
		logger: config.Logger.WithField("manager", "wsrtc"),
		ctx:    ctx,
		config: config,

		options: options,

		connections: cmap.New(),
	}

	return m, nil
}

func (m *Manager) authorize(req *http.Request) bool {
	if len(m.config.WHIPTokens) == 0 {
		return true
	}

	// Browsers cannot set headers for websocket requests.
	token := req.URL.Query().Get("access_token")
	if auth := req.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return false
	}
	for _, allowed := range m.config.WHIPTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			return true
		}
	}
	return false
}

// HTTPWebsocketHandler upgrades the request and runs the signaling
// connection until it is closed.
func (m *Manager) HTTPWebsocketHandler(rw http.ResponseWriter, req *http.Request) {
	if !m.authorize(req) {
		http.Error(rw, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(rw, req, &websocket.AcceptOptions{
		Subprotocols: []string{websocketSubprotocolName},
	})
	if err != nil {
		m.logger.WithError(err).Debugln("websocket accept failed")
		return
	}
	if ws.Subprotocol() != websocketSubprotocolName {
		ws.Close(websocket.StatusPolicyViolation, "unsupported subprotocol")
		return
	}
	ws.SetReadLimit(websocketMaxMessageSize)

	m.wg.Add(1)
	defer m.wg.Done()

	id := guidGenerator.Hex128()
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	c := &Connection{
		id:      id,
		ctx:     ctx,
		ws:      ws,
		manager: m,
		logger:  m.logger.WithField("connection", id),
	}

	m.connections.Set(id, c)
	c.logger.WithField("count", m.connections.Count()).Debugln("websocket connection established")
	defer func() {
		m.connections.Remove(id)
		c.logger.WithField("count", m.connections.Count()).Debugln("websocket connection closed")
	}()

	c.serve()
}

// Wait blocks until all connections have ended.
func (m *Manager) Wait() {
	<-m.ctx.Done()
	m.wg.Wait()
}

// NumActive returns the number of connected websockets.
func (m *Manager) NumActive() uint64 {
	return uint64(m.connections.Count())
}
