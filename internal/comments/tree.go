// Package comments turns the flat comment list of a post into reply trees.
package comments

import "news/internal/models"

// Node is a comment with its direct replies.
type Node struct {
	models.Comment
	Replies []*Node `json:"replies"`
}

// BuildTree attaches every comment to its parent in a single pass. A
// comment whose parent is missing from items, or who names itself as
// parent, becomes a root. Roots and replies keep the order of items.
// items is not modified.
func BuildTree(items []models.Comment) []*Node {
	roots := make([]*Node, 0)
	if len(items) == 0 {
		return roots
	}
	byID := make(map[string]*Node, len(items))
	nodes := make([]*Node, len(items))
	for i, c := range items {
		n := &Node{Comment: c, Replies: make([]*Node, 0)}
		nodes[i] = n
		if _, dup := byID[c.ID]; !dup {
			byID[c.ID] = n
		}
	}
	for _, n := range nodes {
		if n.ParentID != nil && *n.ParentID != n.ID {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Replies = append(parent.Replies, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// Count returns the number of nodes in a forest.
func Count(forest []*Node) int {
	n := 0
	for _, node := range forest {
		n += 1 + Count(node.Replies)
	}
	return n
}

// Walk visits every node depth-first, parents before replies.
func Walk(forest []*Node, fn func(*Node)) {
	for _, node := range forest {
		fn(node)
		Walk(node.Replies, fn)
	}
}
