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
	"errors"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// InfluxConfig configures an InfluxRecorder.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// Measurement defaults to "resgraph".
	Measurement string
}

// InfluxRecorder writes samples to InfluxDB v2, one point per sample.
//
// # Description
//
// The point is tagged with the series, location and type, and carries the
// value in the field "value". Writes are blocking; callers reach the
// recorder through Queued.
type InfluxRecorder struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// NewInfluxRecorder creates the client. No connection is made until the
// first write.
func NewInfluxRecorder(cfg InfluxConfig) (*InfluxRecorder, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx url, org and bucket are required")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "resgraph"
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxRecorder{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}, nil
}

func (r *InfluxRecorder) point(s Sample) *write.Point {
	return influxdb2.NewPointWithMeasurement(r.measurement).
		AddTag("series", s.Series).
		AddTag("location", s.Location).
		AddTag("type", s.Type).
		AddField("value", s.Value).
		SetTime(s.At)
}

func (r *InfluxRecorder) Record(ctx context.Context, s Sample) error {
	if err := r.writeAPI.WritePoint(ctx, r.point(s)); err != nil {
		return fmt.Errorf("write sample %s: %w", s.Series, err)
	}
	return nil
}

func (r *InfluxRecorder) Close() error {
	r.client.Close()
	return nil
}
