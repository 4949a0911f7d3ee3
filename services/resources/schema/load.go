// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"
)

//go:embed default_types.yaml
var defaultTypesYAML []byte

var tracer = otel.Tracer("resgraph.schema")

// Parse decodes a YAML type file. Unknown fields are rejected.
func Parse(data []byte) ([]TypeDef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse type file: %w", err)
	}
	return f.Types, nil
}

// Default returns a registry loaded with the built-in types.
func Default() (*Registry, error) {
	defs, err := Parse(defaultTypesYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded types: %w", err)
	}
	r := NewRegistry()
	if _, err := r.Register(defs...); err != nil {
		return nil, fmt.Errorf("embedded types: %w", err)
	}
	return r, nil
}

// LoadFile reads a type file and registers its definitions.
//
// # Description
//
// The file's types are added on top of whatever the registry already
// holds. A definition conflicting with an existing type fails the whole
// file.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - r: Registry to extend.
//   - path: YAML file path.
//
// # Outputs
//
//   - []string: Names of newly added types.
//   - error: Non-nil if the file cannot be read, parsed or registered.
func LoadFile(ctx context.Context, r *Registry, path string) ([]string, error) {
	_, span := tracer.Start(ctx, "schema.LoadFile")
	defer span.End()
	span.SetAttributes(attribute.String("schema.path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, fmt.Errorf("read type file %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	added, err := r.Register(defs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	span.SetAttributes(attribute.Int("schema.types_added", len(added)))
	return added, nil
}
