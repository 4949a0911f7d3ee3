// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/tree"
)

// NodeKind selects how a tree node is drawn.
type NodeKind int

const (
	NodePlain NodeKind = iota
	NodeDecorator
	NodeReference
)

// TreeNode is one line of a rendered resource tree.
type TreeNode struct {
	Name   string
	Type   string
	Kind   NodeKind
	Active bool

	// Value is shown after the type when set.
	Value string

	// Target is the location a reference points at.
	Target string

	Children []*TreeNode
}

func (p *Printer) label(n *TreeNode) string {
	var b strings.Builder
	name := n.Name
	if n.Kind == NodeDecorator {
		name = "+" + name
	}
	if n.Active {
		b.WriteString(p.Style(Styles.Highlight, name))
	} else {
		b.WriteString(p.Style(Styles.Bold, name))
	}
	if n.Kind == NodeReference {
		fmt.Fprintf(&b, " %s %s", IconArrow, p.Style(Styles.Subtitle, n.Target))
		return b.String()
	}
	fmt.Fprintf(&b, " %s", p.Style(Styles.Muted, n.Type))
	if n.Value != "" {
		fmt.Fprintf(&b, " = %s", n.Value)
	}
	return b.String()
}

func (p *Printer) build(n *TreeNode) *tree.Tree {
	t := tree.Root(p.label(n))
	for _, c := range n.Children {
		if len(c.Children) == 0 {
			t.Child(p.label(c))
			continue
		}
		t.Child(p.build(c))
	}
	return t
}

// RenderTree returns the rendered tree of roots, one block per root.
func (p *Printer) RenderTree(roots []*TreeNode) string {
	blocks := make([]string, 0, len(roots))
	for _, r := range roots {
		blocks = append(blocks, p.build(r).String())
	}
	return strings.Join(blocks, "\n")
}

// Tree prints the tree of roots.
func (p *Printer) Tree(roots []*TreeNode) {
	if len(roots) == 0 {
		fmt.Fprintln(p.W, p.Style(Styles.Muted, "(no resources)"))
		return
	}
	fmt.Fprintln(p.W, p.RenderTree(roots))
}
