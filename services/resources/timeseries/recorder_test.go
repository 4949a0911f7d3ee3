// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timeseries

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryRecorder_Capacity verifies that only the newest samples are
// kept per series.
func TestMemoryRecorder_Capacity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRecorder(3)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, m.Record(ctx, Sample{Series: "s", Value: i}))
	}
	require.NoError(t, m.Record(ctx, Sample{Series: "other", Value: int64(9)}))

	got := m.Samples("s")
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].Value)
	assert.Equal(t, int64(4), got[2].Value)
	assert.Len(t, m.Samples("other"), 1)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Record(ctx, Sample{Series: "s"}), ErrClosed)
}

// TestQueued_DeliversInOrder verifies that queued samples reach the
// recorder in submission order.
func TestQueued_DeliversInOrder(t *testing.T) {
	m := NewMemoryRecorder(0)
	q := NewQueued(m, nil)
	for i := int64(0); i < 20; i++ {
		assert.True(t, q.Submit(Sample{Series: "s", Value: i}))
	}
	require.NoError(t, q.Sync(context.Background()))

	got := m.Samples("s")
	require.Len(t, got, 20)
	for i, s := range got {
		assert.Equal(t, int64(i), s.Value)
	}
	require.NoError(t, q.Close())
	assert.False(t, q.Submit(Sample{Series: "s"}))
}

// TestInfluxRecorder_WritesLineProtocol verifies the point written for a
// sample.
func TestInfluxRecorder_WritesLineProtocol(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		query  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		query = r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	rec, err := NewInfluxRecorder(InfluxConfig{URL: srv.URL, Token: "t", Org: "home", Bucket: "graph"})
	require.NoError(t, err)
	defer rec.Close()

	err = rec.Record(context.Background(), Sample{
		Series:   "A_temp",
		Location: "A/temp",
		Type:     "TemperatureResource",
		Value:    21.5,
		At:       time.Unix(10, 0),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "resgraph,")
	assert.Contains(t, bodies[0], "location=A/temp")
	assert.Contains(t, bodies[0], "value=21.5")
	assert.Contains(t, query, "bucket=graph")
}

// TestNewInfluxRecorder_RequiresTarget verifies config validation.
func TestNewInfluxRecorder_RequiresTarget(t *testing.T) {
	_, err := NewInfluxRecorder(InfluxConfig{URL: "http://localhost:8086"})
	assert.Error(t, err)
}
