/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/longsleep/go-metrics/loggedwriter"
	"github.com/longsleep/go-metrics/timing"
	"github.com/sirupsen/logrus"

	cfg "stash.kopano.io/kwm/kwmwhip/config"
	"stash.kopano.io/kwm/kwmwhip/internal/mediastack"
	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
	"stash.kopano.io/kwm/kwmwhip/internal/transport"
	"stash.kopano.io/kwm/kwmwhip/signaling"
	apiv0 "stash.kopano.io/kwm/kwmwhip/signaling/api-v0/service"
	"stash.kopano.io/kwm/kwmwhip/signaling/whip"
	"stash.kopano.io/kwm/kwmwhip/signaling/wsrtc"
)

// Server is our HTTP server implementation.
type Server struct {
	config *cfg.Config

	listenAddr string
	logger     logrus.FieldLogger

	requestLog bool
	stopping   int32
}

// NewServer constructs a server from the provided parameters.
func NewServer(c *cfg.Config) (*Server, error) {
	if len(c.Policy) == 0 {
		return nil, fmt.Errorf("codec policy is empty")
	}

	s := &Server{
		config: c,

		listenAddr: c.ListenAddr,
		logger:     c.Logger,

		requestLog: os.Getenv("KWMWHIPD_REQUEST_LOG") == "1",
	}

	return s, nil
}

// WithMetrics adds metrics logging to the provided http.Handler. When the
// handler is done, the context is canceled, logging metrics.
func (s *Server) WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		// Create per request cancel context.
		ctx, cancel := context.WithCancel(req.Context())

		loggedWriter := metrics.NewLoggedResponseWriter(rw)
		// Create per request context.
		ctx = timing.NewContext(ctx, func(duration time.Duration) {
			// This is the stop callback, called when complete with duration.
			durationMs := float64(duration) / float64(time.Millisecond)
			// Log request.
			s.logger.WithFields(logrus.Fields{
				"status":     loggedWriter.Status(),
				"method":     req.Method,
				"path":       req.URL.Path,
				"remote":     req.RemoteAddr,
				"duration":   durationMs,
				"user-agent": req.UserAgent(),
			}).Debug("HTTP request complete")
		})
		rw = loggedWriter

		// Run the request.
		next.ServeHTTP(rw, req.WithContext(ctx))

		// Cancel per request context when done.
		cancel()
	})
}

// AddContext adds the associated server's context to the provided http.Hander
// request.
func (s *Server) AddContext(parent context.Context, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		next.ServeHTTP(rw, req.WithContext(parent))
	})
}

// AddRoutes add the associated Servers URL routes to the provided router with
// the provided context.Context.
func (s *Server) AddRoutes(ctx context.Context, router *mux.Router, chain alice.Chain) http.Handler {
	router.Handle("/health-check", chain.ThenFunc(s.HealthCheckHandler))

	return router
}

// NewServices creates the signaling services with their media stack and
// transport collaborators.
func (s *Server) NewServices(ctx context.Context) (*signaling.Services, error) {
	capabilities, err := mediastack.NewProvider(&mediastack.Options{
		Logger: s.logger.WithField("component", "mediastack"),

		UsePionDefaultCodecs: s.config.UsePionDefaultCodecs,
		Codecs:               s.config.Codecs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create media stack capability provider: %w", err)
	}

	describer, err := transport.NewDescriber(&transport.Options{
		Logger: s.logger.WithField("component", "transport"),

		Certificate: s.config.DTLSCertificate,
		ICELite:     s.config.ICELite,
		Candidates:  s.config.ICECandidates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport describer: %w", err)
	}

	negotiationMetrics := negotiation.NewMetrics(s.config.Metrics)

	whipManager, err := whip.NewManager(ctx, s.config, &whip.Options{
		Capabilities: capabilities,
		Transport:    describer,
		Metrics:      negotiationMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create whip manager: %w", err)
	}

	wsrtcManager, err := wsrtc.NewManager(ctx, s.config, &wsrtc.Options{
		Capabilities: capabilities,
		Transport:    describer,
		Metrics:      negotiationMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket manager: %w", err)
	}

	return &signaling.Services{
		WHIPManager:  whipManager,
		WSRTCManager: wsrtcManager,
	}, nil
}

// Serve starts all the associated servers resources and listeners and blocks
// forever until signals or error occurs. Returns error and gracefully stops
// all HTTP listeners before return.
func (s *Server) Serve(ctx context.Context) error {
	var err error

	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	logger := s.logger

	// HTTP services.
	router := mux.NewRouter()
	commonHandlers := alice.New()
	if s.requestLog {
		commonHandlers = commonHandlers.Append(s.WithMetrics)
	}

	// Basic routes provided by server.
	s.AddRoutes(ctx, router, commonHandlers)

	errCh := make(chan error, 2)
	exitCh := make(chan bool, 1)
	signalCh := make(chan os.Signal, 1)

	services, err := s.NewServices(serveCtx)
	if err != nil {
		return err
	}
	logger.WithField("policy", s.config.Policy).Infoln("codec policy loaded")

	// HTTP listener.
	logger.WithField("listenAddr", s.listenAddr).Infoln("starting http listener")
	listener, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}

	apiv0Service := apiv0.NewHTTPService(serveCtx, logger, services)
	apiv0Service.AddRoutes(ctx, router, commonHandlers)

	wg := &sync.WaitGroup{}

	srv := &http.Server{
		Handler: s.AddContext(serveCtx, router),
	}
	wg.Add(1)
	go func() {
		defer func() {
			logger.Debugln("http listener stopped")
			wg.Done()
		}()

		serveErr := srv.Serve(listener)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	wg.Add(1)
	go func() {
		services.WHIPManager.(*whip.Manager).Wait()
		services.WSRTCManager.(*wsrtc.Manager).Wait()
		wg.Done()
	}()

	go func() {
		wg.Wait()
		close(exitCh)
	}()

	logger.Infoln("ready to handle requests")

	// Wait for exit or error.
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err = <-errCh:
		// breaks
	case reason := <-signalCh:
		logger.WithField("signal", reason).Warnln("received signal")
		// breaks
	case <-ctx.Done():
		// breaks
	}

	// Shutdown, server will stop to accept new connections.
	logger.Infoln("clean server shutdown start")
	atomic.StoreInt32(&s.stopping, 1)
	shutDownCtx, shutDownCtxCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if shutdownErr := srv.Shutdown(shutDownCtx); shutdownErr != nil {
		logger.WithError(shutdownErr).Warn("clean server shutdown failed")
	}

	// Cancel our own context, wait on managers.
	serveCtxCancel()
	func() {
		for {
			select {
			case <-exitCh:
				return
			default:
				logger.WithField("active", apiv0Service.NumActive()).Info("waiting for services to exit")
			}

			select {
			case reason := <-signalCh:
				logger.WithField("signal", reason).Warn("received signal")
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()
	shutDownCtxCancel() // prevent leak.

	return err
}
