package pipeline

import (
	"github.com/cozy-creator/lineage-server/internal/db/models"
)

// TreeNode is the original (Version == nil) or one version, with the
// versions derived from it.
type TreeNode struct {
	ID       string          `json:"id"`
	Version  *models.Version `json:"version,omitempty"`
	Depth    int             `json:"depth"`
	Children []*TreeNode     `json:"children"`
}

// TreeLevel groups the children of one source. Level is the depth of the
// source, so the original's direct children form level 0.
type TreeLevel struct {
	Source   string            `json:"source"`
	Children []*models.Version `json:"children"`
	Level    int               `json:"level"`
}

type Tree struct {
	Root   *TreeNode   `json:"root"`
	Levels []TreeLevel `json:"levels"`
}

// BuildTree reconstructs the lineage of p from the parent pointers on its
// versions. Every version appears exactly once: duplicate ids collapse to
// the first occurrence, versions whose parent is missing or unknown hang
// off the original, and versions only reachable through a cycle are
// attached to the original as well.
func BuildTree(p *models.Pipeline) *Tree {
	versions := dedupe(p.Versions)

	known := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		known[v.ID] = struct{}{}
	}

	children := make(map[string][]*models.Version)
	for _, v := range versions {
		parent := resolveParent(p.ID, v, known)
		children[parent] = append(children[parent], v)
	}

	root := &TreeNode{ID: p.ID, Children: []*TreeNode{}}
	claimed := make(map[string]struct{}, len(versions))

	var walk func(node *TreeNode)
	walk = func(node *TreeNode) {
		for _, v := range children[node.ID] {
			if _, ok := claimed[v.ID]; ok {
				continue
			}
			claimed[v.ID] = struct{}{}

			child := &TreeNode{ID: v.ID, Version: v, Depth: node.Depth + 1, Children: []*TreeNode{}}
			node.Children = append(node.Children, child)
			walk(child)
		}
	}
	walk(root)

	for _, v := range versions {
		if _, ok := claimed[v.ID]; ok {
			continue
		}
		claimed[v.ID] = struct{}{}

		child := &TreeNode{ID: v.ID, Version: v, Depth: 1, Children: []*TreeNode{}}
		root.Children = append(root.Children, child)
		walk(child)
	}

	return &Tree{Root: root, Levels: levels(root)}
}

// Versions flattens the tree depth first.
func (t *Tree) Versions() []*models.Version {
	var out []*models.Version

	var visit func(node *TreeNode)
	visit = func(node *TreeNode) {
		if node.Version != nil {
			out = append(out, node.Version)
		}
		for _, child := range node.Children {
			visit(child)
		}
	}
	visit(t.Root)

	return out
}

// resolveParent picks the node that claims v. The walk starts at the
// original, so a version pointing at both the original and another version
// belongs to the original.
func resolveParent(pipelineID string, v *models.Version, known map[string]struct{}) string {
	if v.SourceImageID == pipelineID {
		return pipelineID
	}
	if parent := v.SourceProcessedVersionID; parent != "" && parent != v.ID {
		if _, ok := known[parent]; ok {
			return parent
		}
	}

	// Missing, unknown or self-referencing parents fall back to the
	// original so nothing is dropped.
	return pipelineID
}

func levels(root *TreeNode) []TreeLevel {
	out := []TreeLevel{}

	queue := []*TreeNode{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if len(node.Children) == 0 {
			continue
		}

		group := TreeLevel{Source: node.ID, Level: node.Depth, Children: make([]*models.Version, 0, len(node.Children))}
		for _, child := range node.Children {
			group.Children = append(group.Children, child.Version)
			queue = append(queue, child)
		}
		out = append(out, group)
	}

	return out
}

func dedupe(versions []*models.Version) []*models.Version {
	seen := make(map[string]struct{}, len(versions))
	out := make([]*models.Version, 0, len(versions))
	for _, v := range versions {
		if v == nil {
			continue
		}
		if _, ok := seen[v.ID]; ok {
			continue
		}
		seen[v.ID] = struct{}{}
		out = append(out, v)
	}

	return out
}
