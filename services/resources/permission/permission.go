// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package permission decides whether a consumer may perform an operation
// on a resource path.
package permission

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operation is a guarded action on a resource.
type Operation string

const (
	Read     Operation = "read"
	Write    Operation = "write"
	Create   Operation = "create"
	Delete   Operation = "delete"
	Activity Operation = "activity"
	Listen   Operation = "listen"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case Read, Write, Create, Delete, Activity, Listen:
		return true
	}
	return false
}

// Checker decides permissions. Implementations must be safe for concurrent
// use and must not call back into the resource manager.
type Checker interface {
	Allowed(consumer, path string, op Operation) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(consumer, path string, op Operation) bool

func (f CheckerFunc) Allowed(consumer, path string, op Operation) bool {
	return f(consumer, path, op)
}

// AllowAll permits everything.
var AllowAll Checker = CheckerFunc(func(string, string, Operation) bool { return true })

// Effect is the outcome of a matching rule.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Rule grants or denies operations on matching paths.
//
// Paths are path.Match globs over slash-separated resource paths. A
// trailing "/**" also matches the prefix itself and everything below it.
// Consumers are globs as well; an empty list matches every consumer.
type Rule struct {
	Name       string      `yaml:"name"`
	Consumers  []string    `yaml:"consumers"`
	Paths      []string    `yaml:"paths"`
	Operations []Operation `yaml:"operations"`
	Effect     Effect      `yaml:"effect"`
	Priority   int         `yaml:"priority"`
}

// Policy is an ordered rule list with a default effect. Rules are checked
// from highest to lowest priority and the first match decides.
type Policy struct {
	Default Effect `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// ParsePolicy decodes and validates a YAML policy.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	if p.Default == "" {
		p.Default = Allow
	}
	if p.Default != Allow && p.Default != Deny {
		return nil, fmt.Errorf("invalid default effect %q", p.Default)
	}
	for i, r := range p.Rules {
		if r.Effect != Allow && r.Effect != Deny {
			return nil, fmt.Errorf("rule %d (%s): invalid effect %q", i, r.Name, r.Effect)
		}
		if len(r.Paths) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no paths", i, r.Name)
		}
		for _, op := range r.Operations {
			if !op.Valid() {
				return nil, fmt.Errorf("rule %d (%s): unknown operation %q", i, r.Name, op)
			}
		}
		for _, pat := range append(append([]string(nil), r.Paths...), r.Consumers...) {
			if _, err := path.Match(strings.TrimSuffix(pat, "/**"), ""); err != nil {
				return nil, fmt.Errorf("rule %d (%s): bad pattern %q: %w", i, r.Name, pat, err)
			}
		}
	}
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return p.Rules[i].Priority > p.Rules[j].Priority
	})
	return &p, nil
}

// LoadPolicy reads a policy file.
func LoadPolicy(file string) (*Policy, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", file, err)
	}
	return ParsePolicy(data)
}

// Allowed implements Checker.
func (p *Policy) Allowed(consumer, resourcePath string, op Operation) bool {
	for _, r := range p.Rules {
		if r.matches(consumer, resourcePath, op) {
			return r.Effect == Allow
		}
	}
	return p.Default == Allow
}

func (r Rule) matches(consumer, resourcePath string, op Operation) bool {
	if len(r.Operations) > 0 && !contains(r.Operations, op) {
		return false
	}
	if len(r.Consumers) > 0 && !anyMatch(r.Consumers, consumer) {
		return false
	}
	return anyMatch(r.Paths, resourcePath)
}

func contains(ops []Operation, op Operation) bool {
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

func anyMatch(patterns []string, s string) bool {
	for _, pat := range patterns {
		if matchPattern(pat, s) {
			return true
		}
	}
	return false
}

func matchPattern(pat, s string) bool {
	if prefix, ok := strings.CutSuffix(pat, "/**"); ok {
		if ok, _ := path.Match(prefix, s); ok {
			return true
		}
		parts := strings.Split(s, "/")
		for i := 1; i < len(parts); i++ {
			if ok, _ := path.Match(prefix, strings.Join(parts[:i], "/")); ok {
				return true
			}
		}
		return false
	}
	ok, _ := path.Match(pat, s)
	return ok
}
