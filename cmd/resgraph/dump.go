// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/resgraph/pkg/ux"
	"github.com/AleutianAI/resgraph/services/resources/manager"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

// dumpConsumer is the consumer identity used by dump.
const dumpConsumer = "dump"

func runDump(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Loading logs at info; keep dump output clean.
	if logLevel == "" && cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	st, err := openEngine(cmd.Context(), cfg, log.Slog())
	if err != nil {
		return err
	}
	defer st.engine.Close()

	rm, err := st.engine.Consumer(dumpConsumer)
	if err != nil {
		return err
	}
	var roots []*manager.Resource
	if len(args) == 1 {
		r, err := rm.GetResource(args[0])
		if err != nil {
			return err
		}
		roots = append(roots, r)
	} else {
		roots = rm.TopLevelResources("")
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	nodes := make([]*ux.TreeNode, 0, len(roots))
	for _, r := range roots {
		nodes = append(nodes, treeOf(st.registry, r))
	}
	p.Tree(nodes)
	return nil
}

// treeOf converts the subtree at r. References are leaves that name their
// target, so cycles terminate.
func treeOf(reg *schema.Registry, r *manager.Resource) *ux.TreeNode {
	n := &ux.TreeNode{
		Name:   r.Name(),
		Type:   r.Type(),
		Active: r.IsActive(),
	}
	switch {
	case r.IsReference(false):
		n.Kind = ux.NodeReference
		n.Target = r.Location()
		return n
	case r.IsDecorator():
		n.Kind = ux.NodeDecorator
	}
	if dumpValues && reg.ValueKind(n.Type) != schema.KindNone {
		if v, err := r.Value(); err == nil {
			n.Value = formatValue(v)
		}
	}
	for _, c := range r.SubResources(false) {
		n.Children = append(n.Children, treeOf(reg, c))
	}
	return n
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}
