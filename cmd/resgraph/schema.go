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
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/resgraph/pkg/ux"
	"github.com/AleutianAI/resgraph/services/resources/schema"
)

func runSchemaTypes(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := loadSchema(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	types := reg.Types()
	p.Title(fmt.Sprintf("%d resource types", len(types)))
	for _, td := range types {
		p.Row(td.Name, describeType(td))
	}
	return nil
}

// describeType renders the supertype, value kind, elements and lists of td.
func describeType(td schema.TypeDef) string {
	var parts []string
	if td.Extends != "" {
		parts = append(parts, "extends "+td.Extends)
	}
	if td.Value != "" {
		parts = append(parts, "value "+string(td.Value))
	}
	if len(td.Elements) > 0 {
		parts = append(parts, "{"+joinSlots(td.Elements)+"}")
	}
	if len(td.Lists) > 0 {
		parts = append(parts, "lists {"+joinSlots(td.Lists)+"}")
	}
	return strings.Join(parts, " ")
}

func joinSlots(slots map[string]string) string {
	names := make([]string, 0, len(slots))
	for name, typ := range slots {
		names = append(names, name+":"+typ)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// runSchemaValidate registers the file on top of the configured types.
// Nothing is written anywhere.
func runSchemaValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := loadSchema(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	added, err := schema.LoadFile(cmd.Context(), reg, args[0])
	if err != nil {
		return err
	}

	p := ux.NewPrinter(cmd.OutOrStdout())
	if len(added) == 0 {
		p.Warning("%s: no new types", args[0])
		return nil
	}
	p.Success("%s: %d new types", args[0], len(added))
	for _, name := range added {
		p.Row(name, "")
	}
	return nil
}
