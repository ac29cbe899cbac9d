// Package assembler validates and reconstructs trace trees from flat span
// sets, and computes cumulative metrics over them.
package assembler

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Agenta-AI/agenta-sub004/internal/errs"
	"github.com/Agenta-AI/agenta-sub004/internal/model"
)

// ValidateRoots checks that the raw span set forms exactly one tree root.
func ValidateRoots(raws []model.RawSpan) error {
	if len(raws) == 0 {
		return &errs.StructureError{Reason: "no spans"}
	}
	roots := 0
	for _, r := range raws {
		if r.Parent == nil {
			roots++
		}
	}
	return checkRoots(roots)
}

// ValidateSpans is ValidateRoots for canonical spans.
func ValidateSpans(spans []model.Span) error {
	if len(spans) == 0 {
		return &errs.StructureError{Reason: "no spans"}
	}
	roots := 0
	for _, s := range spans {
		if s.IsRoot() {
			roots++
		}
	}
	return checkRoots(roots)
}

func checkRoots(roots int) error {
	switch {
	case roots == 0:
		return &errs.StructureError{Reason: "no root span", Roots: 0}
	case roots > 1:
		return &errs.StructureError{Reason: "multiple root spans", Roots: roots}
	}
	return nil
}

// Assemble groups spans by tree id and links each span under its parent.
// Spans whose parent is missing (or whose ancestry loops) attach under the
// tree's root; a tree without a root keeps them at the top level.
func Assemble(spans []model.Span) model.Traces {
	byTree := make(map[uuid.UUID][]model.Span)
	for _, s := range spans {
		byTree[s.Tree.ID] = append(byTree[s.Tree.ID], s)
	}
	traces := make(model.Traces, len(byTree))
	for treeID, members := range byTree {
		traces[treeID] = assembleTree(members)
	}
	return traces
}

func assembleTree(spans []model.Span) model.Tree {
	sortByStart(spans)

	nodes := make(map[uuid.UUID]*model.SpanNode, len(spans))
	order := make([]uuid.UUID, 0, len(spans))
	for _, s := range spans {
		if _, dup := nodes[s.Node.ID]; dup {
			continue
		}
		nodes[s.Node.ID] = &model.SpanNode{Span: s}
		order = append(order, s.Node.ID)
	}

	tree := make(model.Tree)
	var root *model.SpanNode
	for _, id := range order {
		if n := nodes[id]; n.IsRoot() {
			tree[id] = n
			if root == nil {
				root = n
			}
		}
	}

	for _, id := range order {
		n := nodes[id]
		if n.IsRoot() {
			continue
		}
		parent, ok := nodes[n.Parent.ID]
		if !ok || !reachesRoot(nodes, id) {
			if root != nil {
				addChild(root, n)
			} else {
				tree[id] = n
			}
			continue
		}
		addChild(parent, n)
	}
	return tree
}

// reachesRoot walks the parent chain of id and reports whether it ends at a
// parentless span without revisiting a node.
func reachesRoot(nodes map[uuid.UUID]*model.SpanNode, id uuid.UUID) bool {
	seen := make(map[uuid.UUID]bool)
	for {
		n, ok := nodes[id]
		if !ok {
			return false
		}
		if n.IsRoot() {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		id = n.Parent.ID
	}
}

func addChild(parent, child *model.SpanNode) {
	if parent.Nodes == nil {
		parent.Nodes = make(map[uuid.UUID]*model.SpanNode)
	}
	parent.Nodes[child.Node.ID] = child
}

// Spans flattens traces back to a span list ordered by start time.
func Spans(traces model.Traces) []model.Span {
	var out []model.Span
	var walk func(n *model.SpanNode)
	walk = func(n *model.SpanNode) {
		out = append(out, n.Span)
		for _, c := range n.Nodes {
			walk(c)
		}
	}
	for _, tree := range traces {
		for _, n := range tree {
			walk(n)
		}
	}
	sortByStart(out)
	return out
}

func sortByStart(spans []model.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if !spans[i].Time.Start.Equal(spans[j].Time.Start) {
			return spans[i].Time.Start.Before(spans[j].Time.Start)
		}
		return spans[i].Node.ID.String() < spans[j].Node.ID.String()
	})
}
