// Package thread reconstructs reply trees: it orders a thread's emails and
// assigns each one its traversal order and nesting depth.
package thread

import (
	"archive_server/core/domain"
	"archive_server/core/port/out"
)

// =============================================================================
// Starting Email
// =============================================================================

// StartingEmail picks the root of a thread assembled from possibly partial
// history: the first email with no reply link, else the earliest by date.
// An explicit In-Reply-To link beats chronological order, so a reply dated
// before its parent never becomes the root.
func StartingEmail(emails []*domain.Email) *domain.Email {
	if len(emails) == 0 {
		return nil
	}
	var root *domain.Email
	for _, e := range emails {
		if e.InReplyTo != "" {
			continue
		}
		if root == nil || e.Date.Before(root.Date) {
			root = e
		}
	}
	if root != nil {
		return root
	}
	root = emails[0]
	for _, e := range emails[1:] {
		if e.Date.Before(root.Date) {
			root = e
		}
	}
	return root
}

// =============================================================================
// Order and Depth
// =============================================================================

type node struct {
	email    *domain.Email
	index    int // insertion index, drives sibling visit order
	children []*node
	parent   *node
	visited  bool
}

// ComputePositions walks the thread's reply graph and returns each email's
// thread_order and thread_depth. emails must come in the thread's canonical
// order (date, then insertion). Reply loops and self-replies are dropped at
// edge-insertion time so the walk always terminates.
func ComputePositions(emails []*domain.Email) []out.ThreadPosition {
	if len(emails) == 0 {
		return nil
	}

	nodes := make(map[string]*node, len(emails))
	ordered := make([]*node, 0, len(emails))
	for i, e := range emails {
		n := &node{email: e, index: i}
		nodes[e.MessageID] = n
		ordered = append(ordered, n)
	}

	// Edges link a child to its in-thread parent. An edge whose insertion
	// would close a loop is dropped, membership stays intact.
	for _, child := range ordered {
		if child.email.InReplyTo == "" {
			continue
		}
		parent, ok := nodes[child.email.InReplyTo]
		if !ok || parent == child {
			continue
		}
		if reaches(parent, child) {
			continue
		}
		parent.children = append(parent.children, child)
		child.parent = parent
	}

	positions := make([]out.ThreadPosition, 0, len(emails))
	counter := 0

	var walk func(n *node, depth int)
	walk = func(n *node, depth int) {
		n.visited = true
		positions = append(positions, out.ThreadPosition{
			MessageID: n.email.MessageID,
			Order:     counter,
			Depth:     depth,
		})
		counter++
		for _, child := range n.children {
			walk(child, depth+1)
		}
	}

	start := nodes[StartingEmail(emails).MessageID]
	walk(start, 0)

	// Orphaned subtrees (parent deleted or never archived) continue the
	// numbering as additional roots, in insertion order.
	for _, n := range ordered {
		if !n.visited && n.parent == nil {
			walk(n, 0)
		}
	}
	for _, n := range ordered {
		if !n.visited {
			walk(n, 0)
		}
	}
	return positions
}

// reaches reports whether target is reachable from from over child edges.
// Adding parent→child closes a loop iff the parent already sits below the
// child, so callers test reaches(parent, child) before inserting.
func reaches(target, from *node) bool {
	if target == from {
		return true
	}
	for _, child := range from.children {
		if reaches(target, child) {
			return true
		}
	}
	return false
}
