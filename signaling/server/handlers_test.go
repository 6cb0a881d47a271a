/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0 1\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 102\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"a=fmtp:102 profile-level-id=4d001f;packetization-mode=1\r\n"

func TestHealthCheckHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create our server.
	httpServer, server, router, _ := newTestServer(ctx, t, nil)
	defer httpServer.Close()

	// Prepare the request to pass to our handler.
	req, err := http.NewRequest("GET", "/health-check", nil)
	if err != nil {
		t.Fatal(err)
	}

	// Create response recorder to record the response.
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// Check the status code is what we expect.
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	atomic.StoreInt32(&server.stopping, 1)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusServiceUnavailable {
		t.Errorf("handler returned wrong status code while stopping: got %v want %v", status, http.StatusServiceUnavailable)
	}
}

func postOffer(t *testing.T, router http.Handler, path string, contentType string, body string) *httptest.ResponseRecorder {
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestWHIPPublishAndTeardown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer, _, router, _ := newTestServer(ctx, t, nil)
	defer httpServer.Close()

	rr := postOffer(t, router, "/api/kwm/v0/whip/stream1", "application/sdp", testOffer)
	if status := rr.Code; status != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v: %s", status, http.StatusCreated, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/sdp" {
		t.Errorf("wrong content type: %v", ct)
	}
	location := rr.Header().Get("Location")
	if !strings.HasPrefix(location, "/api/kwm/v0/resources/") {
		t.Errorf("wrong location: %v", location)
	}
	if etag := rr.Header().Get("ETag"); etag == "" {
		t.Error("etag missing")
	}
	answer := rr.Body.String()
	if !strings.Contains(answer, "a=recvonly") {
		t.Errorf("answer is not recvonly: %s", answer)
	}
	if !strings.Contains(answer, "profile-level-id=4d001f") {
		t.Errorf("answer lacks negotiated h264 profile: %s", answer)
	}

	// Resource introspection.
	req, _ := http.NewRequest(http.MethodGet, location, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusOK {
		t.Fatalf("resource handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	req, _ = http.NewRequest(http.MethodGet, "/api/kwm/v0/resources", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	collection := struct {
		ODataContext string            `json:"@odata.context"`
		Values       []json.RawMessage `json:"values"`
	}{}
	if err := json.Unmarshal(rr.Body.Bytes(), &collection); err != nil {
		t.Fatal(err)
	}
	if len(collection.Values) != 1 {
		t.Errorf("wrong number of resources: got %d want 1", len(collection.Values))
	}
	if collection.ODataContext != "/api/kwm/v0/resources" {
		t.Errorf("wrong odata context: %v", collection.ODataContext)
	}

	// Trickle is not supported.
	req, _ = http.NewRequest(http.MethodPatch, location, strings.NewReader(""))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusMethodNotAllowed {
		t.Errorf("patch returned wrong status code: got %v want %v", status, http.StatusMethodNotAllowed)
	}

	req, _ = http.NewRequest(http.MethodDelete, location, nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusOK {
		t.Errorf("delete returned wrong status code: got %v want %v", status, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("second delete returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}
}

func TestWHEPSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer, _, router, _ := newTestServer(ctx, t, nil)
	defer httpServer.Close()

	offer := strings.Replace(testOffer, "a=sendonly", "a=recvonly", -1)
	rr := postOffer(t, router, "/api/kwm/v0/whep/stream1", "application/sdp", offer)
	if status := rr.Code; status != http.StatusCreated {
		t.Fatalf("handler returned wrong status code: got %v want %v: %s", status, http.StatusCreated, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "a=sendonly") {
		t.Errorf("answer is not sendonly: %s", rr.Body.String())
	}
}

func TestWHIPErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer, _, router, _ := newTestServer(ctx, t, codecs.MatchPolicy{{MimeType: "video/AV1"}})
	defer httpServer.Close()

	for _, tc := range []struct {
		name        string
		contentType string
		body        string
		status      int
		code        string
	}{
		{"wrong content type", "application/json", testOffer, http.StatusUnsupportedMediaType, "ErrorUnsupportedContentType"},
		{"empty offer", "application/sdp", "", http.StatusBadRequest, "ErrorInvalidOffer"},
		{"garbage offer", "application/sdp", "hello", http.StatusBadRequest, "ErrorInvalidOffer"},
		{"no matching codec", "application/sdp; charset=utf-8", testOffer, http.StatusNotAcceptable, "ErrorNoMatchingCodec"},
	} {
		rr := postOffer(t, router, "/api/kwm/v0/whip/stream1", tc.contentType, tc.body)
		if status := rr.Code; status != tc.status {
			t.Errorf("%s: wrong status code: got %v want %v", tc.name, status, tc.status)
			continue
		}
		e := struct {
			Code string `json:"code"`
		}{}
		if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if e.Code != tc.code {
			t.Errorf("%s: wrong error code: got %v want %v", tc.name, e.Code, tc.code)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, "/api/kwm/v0/resources/unknown", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if status := rr.Code; status != http.StatusNotFound {
		t.Errorf("unknown resource returned wrong status code: got %v want %v", status, http.StatusNotFound)
	}
}
