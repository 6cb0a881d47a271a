/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package server

import (
	"net/http"
	"sync/atomic"
)

// HealthCheckHandler a http handler return 200 OK when server health is fine
// and 503 once the server is shutting down.
func (s *Server) HealthCheckHandler(rw http.ResponseWriter, req *http.Request) {
	if atomic.LoadInt32(&s.stopping) != 0 {
		http.Error(rw, "shutting down", http.StatusServiceUnavailable)
		return
	}
	rw.WriteHeader(http.StatusOK)
}
