/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package whip

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "stash.kopano.io/kwm/kwmwhip/config"
	"stash.kopano.io/kwm/kwmwhip/internal/codecs"
)

const testOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 102\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendonly\r\n" +
	"a=rtpmap:102 H264/90000\r\n" +
	"a=fmtp:102 profile-level-id=4d001f;packetization-mode=1\r\n"

var testCapabilities = codecs.Capabilities{
	{MimeType: "video/VP8", ClockRate: 90000, PayloadType: 96},
	{MimeType: "video/H264", ClockRate: 90000, FmtpLine: "profile-level-id=4d001f;packetization-mode=1", PayloadType: 100},
}

func newTestManager(t *testing.T, ctx context.Context, config *cfg.Config) *Manager {
	logger, _ := test.NewNullLogger()
	config.Logger = logger
	if config.Policy == nil {
		config.Policy = codecs.DefaultPolicy()
	}

	m, err := NewManager(ctx, config, &Options{
		Capabilities: testCapabilities,
	})
	require.NoError(t, err)
	return m
}

func newOfferRequest(path string, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/sdp")
	return req
}

func publish(t *testing.T, m *Manager) string {
	rr := httptest.NewRecorder()
	m.HTTPPublishHandler(rr, newOfferRequest("/api/kwm/v0/whip/stream1", testOffer))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	location := rr.Header().Get("Location")
	return location[strings.LastIndex(location, "/")+1:]
}

func TestNewManagerRequiresCapabilities(t *testing.T) {
	logger, _ := test.NewNullLogger()
	_, err := NewManager(context.Background(), &cfg.Config{Logger: logger}, &Options{})
	assert.Error(t, err)

	_, err = NewManager(context.Background(), &cfg.Config{Logger: logger}, nil)
	assert.Error(t, err)
}

func TestPublishCreatesResource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{})

	rr := httptest.NewRecorder()
	m.HTTPPublishHandler(rr, newOfferRequest("/api/kwm/v0/whip/stream1", testOffer))

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/sdp", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/api/kwm/v0/resources/"))
	assert.Contains(t, rr.Body.String(), "a=rtpmap:102 H264/90000")
	assert.NotContains(t, rr.Body.String(), "VP8")
	assert.Equal(t, uint64(1), m.NumActive())

	id := rr.Header().Get("Location")[len("/api/kwm/v0/resources/"):]
	record, ok := m.get(id)
	require.True(t, ok)
	assert.Equal(t, `"`+record.exchange.Current().ID()+`"`, rr.Header().Get("ETag"))
}

func TestResourceLocation(t *testing.T) {
	assert.Equal(t, "/api/kwm/v0/resources/abc", resourceLocation("/api/kwm/v0/whip/stream1", "abc"))
	assert.Equal(t, "/api/kwm/v0/resources/abc", resourceLocation("/api/kwm/v0/whep/stream1", "abc"))
}

func TestPublishAuthorization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{
		WHIPTokens: []string{"secret"},
	})

	rr := httptest.NewRecorder()
	m.HTTPPublishHandler(rr, newOfferRequest("/api/kwm/v0/whip/stream1", testOffer))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))

	req := newOfferRequest("/api/kwm/v0/whip/stream1", testOffer)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	m.HTTPPublishHandler(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = newOfferRequest("/api/kwm/v0/whip/stream1", testOffer)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	m.HTTPPublishHandler(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	// Deleting requires the token as well.
	location := rr.Header().Get("Location")
	id := location[strings.LastIndex(location, "/")+1:]
	req = mux.SetURLVars(httptest.NewRequest(http.MethodDelete, location, nil), map[string]string{"resourceID": id})
	rr = httptest.NewRecorder()
	m.HTTPResourceHandler(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, uint64(1), m.NumActive())
}

func TestResourceIntrospectionAuthorization(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{
		WHIPTokens: []string{"secret"},
	})

	req := newOfferRequest("/api/kwm/v0/whip/stream1", testOffer)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	m.HTTPPublishHandler(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	location := rr.Header().Get("Location")
	id := location[strings.LastIndex(location, "/")+1:]

	for _, authorization := range []string{"", "Bearer wrong"} {
		req = httptest.NewRequest(http.MethodGet, "/api/kwm/v0/resources", nil)
		req.Header.Set("Authorization", authorization)
		rr = httptest.NewRecorder()
		m.HTTPResourcesHandler(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, authorization)
		assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
		assert.NotContains(t, rr.Body.String(), id)

		req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, location, nil), map[string]string{"resourceID": id})
		req.Header.Set("Authorization", authorization)
		rr = httptest.NewRecorder()
		m.HTTPResourceHandler(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, authorization)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/kwm/v0/resources", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	m.HTTPResourcesHandler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), id)

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, location, nil), map[string]string{"resourceID": id})
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	m.HTTPResourceHandler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPublishOfferTooLarge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{
		MaxOfferSize: 16,
	})

	rr := httptest.NewRecorder()
	m.HTTPPublishHandler(rr, newOfferRequest("/api/kwm/v0/whip/stream1", testOffer))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, uint64(0), m.NumActive())
}

func TestPublishRejectedOfferCreatesNoResource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{
		Policy: codecs.MatchPolicy{{MimeType: "video/AV1"}},
	})

	rr := httptest.NewRecorder()
	m.HTTPPublishHandler(rr, newOfferRequest("/api/kwm/v0/whip/stream1", testOffer))
	assert.Equal(t, http.StatusNotAcceptable, rr.Code)
	assert.Equal(t, uint64(0), m.NumActive())
}

func TestResourceHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{})
	id := publish(t, m)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/kwm/v0/resources/"+id, nil), map[string]string{"resourceID": id})
	rr := httptest.NewRecorder()
	m.HTTPResourceHandler(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	resource := struct {
		ID       string `json:"id"`
		Role     string `json:"role"`
		StreamID string `json:"stream_id"`
	}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resource))
	assert.Equal(t, id, resource.ID)
	assert.Equal(t, "publish", resource.Role)

	req = mux.SetURLVars(httptest.NewRequest(http.MethodPut, "/api/kwm/v0/resources/"+id, nil), map[string]string{"resourceID": id})
	rr = httptest.NewRecorder()
	m.HTTPResourceHandler(rr, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, DELETE", rr.Header().Get("Allow"))

	req = mux.SetURLVars(httptest.NewRequest(http.MethodDelete, "/api/kwm/v0/resources/"+id, nil), map[string]string{"resourceID": id})
	rr = httptest.NewRecorder()
	m.HTTPResourceHandler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, uint64(0), m.NumActive())

	req = mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/kwm/v0/resources/"+id, nil), map[string]string{"resourceID": id})
	rr = httptest.NewRecorder()
	m.HTTPResourceHandler(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestResourcesHandler(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{})

	rr := httptest.NewRecorder()
	m.HTTPResourcesHandler(rr, httptest.NewRequest(http.MethodGet, "/api/kwm/v0/resources", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"values": []`)

	publish(t, m)
	publish(t, m)

	rr = httptest.NewRecorder()
	m.HTTPResourcesHandler(rr, httptest.NewRequest(http.MethodGet, "/api/kwm/v0/resources", nil))
	collection := struct {
		Values []json.RawMessage `json:"values"`
	}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &collection))
	assert.Len(t, collection.Values, 2)
}

func TestManagerMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, ctx, &cfg.Config{
		Metrics: prometheus.NewPedanticRegistry(),
	})

	publish(t, m)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.active))
}

func TestManagerClosesResourcesOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := newTestManager(t, ctx, &cfg.Config{})

	id := publish(t, m)
	record, ok := m.get(id)
	require.True(t, ok)

	cancel()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not stop")
	}

	assert.Equal(t, uint64(0), m.NumActive())
	assert.Equal(t, "closed", string(record.exchange.Current().State()))
}
