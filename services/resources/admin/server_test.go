// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/resgraph/services/resources/manager"
	"github.com/AleutianAI/resgraph/services/resources/permission"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	engine *manager.Engine
	app    *manager.ResourceManager
	server *Server
}

func newFixture(t *testing.T, opts ...manager.Option) *fixture {
	t.Helper()
	e, err := manager.NewEngine(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	app, err := e.Consumer("app")
	require.NoError(t, err)
	srv, err := NewServer(e, Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &fixture{engine: e, app: app, server: srv}
}

func (f *fixture) get(t *testing.T, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, url, nil)
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// TestHealthAndMetrics verifies the liveness and metrics routes.
func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])

	w = f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestNewServer_SingleConsumer verifies a second admin server on the same
// engine is refused.
func TestNewServer_SingleConsumer(t *testing.T) {
	f := newFixture(t)
	_, err := NewServer(f.engine, Config{}, nil)
	assert.ErrorIs(t, err, manager.ErrAlreadyExists)
	_, err = NewServer(nil, Config{}, nil)
	assert.Error(t, err)
}

// TestTypes verifies the registry listing.
func TestTypes(t *testing.T) {
	f := newFixture(t)
	w := f.get(t, "/v1/types")
	require.Equal(t, http.StatusOK, w.Code)

	types := decode[[]schema.TypeDef](t, w)
	names := make(map[string]bool)
	for _, td := range types {
		names[td.Name] = true
	}
	assert.True(t, names["Switch"])
	assert.True(t, names["FloatResource"])
}

// TestResources verifies top-level listing and resource detail.
func TestResources(t *testing.T) {
	f := newFixture(t)
	a, err := f.app.CreateResource("A", "Switch")
	require.NoError(t, err)
	s, err := a.AddOptionalElement("setting")
	require.NoError(t, err)
	require.NoError(t, s.SetValue(2.5))
	require.NoError(t, a.Activate(true))
	b, err := f.app.CreateResource("B", "Switch")
	require.NoError(t, err)
	_, err = b.SetOptionalElement("setting", s)
	require.NoError(t, err)
	_, err = f.app.CreateResource("R", "Room")
	require.NoError(t, err)

	w := f.get(t, "/v1/resources?type=Switch")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]ResourceSummary](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, ResourceSummary{Path: "A", Type: "Switch", Active: true}, list[0])
	assert.Equal(t, "B", list[1].Path)

	w = f.get(t, "/v1/resources?type=Nope")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.get(t, "/v1/resources/A/setting")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[ResourceView](t, w)
	assert.Equal(t, "A/setting", view.Location)
	assert.Equal(t, "FloatResource", view.Type)
	assert.Equal(t, 2.5, view.Value)
	assert.True(t, view.Active)
	assert.Equal(t, []string{"B"}, view.ReferencedBy)

	w = f.get(t, "/v1/resources/B/setting")
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[ResourceView](t, w)
	assert.True(t, view.Reference)
	assert.Equal(t, "A/setting", view.Location)

	w = f.get(t, "/v1/resources/A")
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[ResourceView](t, w)
	assert.Nil(t, view.Value)
	require.Len(t, view.Children, 1)
	assert.Equal(t, "A/setting", view.Children[0].Path)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/resources/Missing").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/resources/A/@recording").Code)
}

// TestResources_Permissions verifies the admin consumer is subject to the
// policy.
func TestResources_Permissions(t *testing.T) {
	checker := permission.CheckerFunc(func(consumer, path string, op permission.Operation) bool {
		return consumer != ConsumerName || !strings.HasPrefix(path, "secret")
	})
	f := newFixture(t, manager.WithPermissions(checker))
	_, err := f.app.CreateResource("secret", "Switch")
	require.NoError(t, err)

	assert.Equal(t, http.StatusForbidden, f.get(t, "/v1/resources/secret").Code)
	list := decode[[]ResourceSummary](t, f.get(t, "/v1/resources"))
	assert.Empty(t, list)
}

// TestWatch verifies structural events are streamed over the WebSocket.
func TestWatch(t *testing.T) {
	f := newFixture(t)
	a, err := f.app.CreateResource("A", "Switch")
	require.NoError(t, err)

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/watch/A"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello WatchHello
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "watching", hello.Action)
	assert.Equal(t, "A", hello.Path)

	_, err = a.AddOptionalElement("setting")
	require.NoError(t, err)

	var ev WatchEvent
	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, WatchEvent{
		Type:       "SUBRESOURCE_ADDED",
		Source:     "A",
		SourceType: "Switch",
		Changed:    "A/setting",
	}, ev)

	require.NoError(t, ws.ReadJSON(&ev))
	assert.Equal(t, "RESOURCE_CREATED", ev.Type)
	assert.Equal(t, "A/setting", ev.Source)
}
