package rbac

import (
	"sort"
	"strings"
)

// Hierarchy is the permission catalog arranged as a forest. Nodes live in a
// slice and refer to each other by index.
type Hierarchy struct {
	nodes  []hnode
	byID   map[string]int
	byCode map[string]int
	roots  []int
}

type hnode struct {
	perm     *Permission
	parent   int
	children []int
}

// NewHierarchy builds the forest. A node's parent is found by ParentID, or
// by ParentCode when ParentID is unset. Nodes whose parent is unknown, or
// whose parent chain loops back to themselves, become roots. Siblings are
// ordered by level, category and name.
func NewHierarchy(perms []*Permission) *Hierarchy {
	sorted := make([]*Permission, len(perms))
	copy(sorted, perms)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Code < b.Code
	})

	h := &Hierarchy{
		nodes:  make([]hnode, len(sorted)),
		byID:   make(map[string]int, len(sorted)),
		byCode: make(map[string]int, len(sorted)),
	}
	for i, p := range sorted {
		h.nodes[i] = hnode{perm: p, parent: -1}
		if p.ID != "" {
			h.byID[p.ID] = i
		}
		h.byCode[p.Code] = i
	}

	for i, p := range sorted {
		parent, ok := -1, false
		if p.ParentID != nil {
			parent, ok = h.byID[*p.ParentID]
		} else if p.ParentCode != "" {
			parent, ok = h.byCode[p.ParentCode]
		}
		if ok && parent != i {
			h.nodes[i].parent = parent
		}
	}

	for i := range h.nodes {
		if h.loops(i) {
			h.nodes[i].parent = -1
		}
	}

	for i := range h.nodes {
		if p := h.nodes[i].parent; p >= 0 {
			h.nodes[p].children = append(h.nodes[p].children, i)
		} else {
			h.roots = append(h.roots, i)
		}
	}
	return h
}

// loops reports whether walking up from i returns to i.
func (h *Hierarchy) loops(i int) bool {
	cur := h.nodes[i].parent
	for steps := 0; cur >= 0 && steps <= len(h.nodes); steps++ {
		if cur == i {
			return true
		}
		cur = h.nodes[cur].parent
	}
	return false
}

// Len returns the number of permissions.
func (h *Hierarchy) Len() int { return len(h.nodes) }

// Lookup finds a permission by code.
func (h *Hierarchy) Lookup(code string) (*Permission, bool) {
	i, ok := h.byCode[code]
	if !ok {
		return nil, false
	}
	return h.nodes[i].perm, true
}

// Permissions returns every permission in sibling order.
func (h *Hierarchy) Permissions() []*Permission {
	out := make([]*Permission, 0, len(h.nodes))
	h.walk(h.roots, func(i int) { out = append(out, h.nodes[i].perm) })
	return out
}

// Ancestors returns the chain from code's parent up to its root.
func (h *Hierarchy) Ancestors(code string) []*Permission {
	i, ok := h.byCode[code]
	if !ok {
		return nil
	}
	var out []*Permission
	for p := h.nodes[i].parent; p >= 0; p = h.nodes[p].parent {
		out = append(out, h.nodes[p].perm)
	}
	return out
}

// Descendants returns every permission below code, depth first.
func (h *Hierarchy) Descendants(code string) []*Permission {
	i, ok := h.byCode[code]
	if !ok {
		return nil
	}
	var out []*Permission
	h.walk(h.nodes[i].children, func(j int) { out = append(out, h.nodes[j].perm) })
	return out
}

// Depth returns the number of ancestors of code.
func (h *Hierarchy) Depth(code string) int {
	return len(h.Ancestors(code))
}

// PathOf returns the materialized path of code: ancestor codes from the
// root down, then code itself, joined by "/".
func (h *Hierarchy) PathOf(code string) string {
	ancestors := h.Ancestors(code)
	parts := make([]string, 0, len(ancestors)+1)
	for k := len(ancestors) - 1; k >= 0; k-- {
		parts = append(parts, ancestors[k].Code)
	}
	parts = append(parts, code)
	return strings.Join(parts, "/")
}

// Tree returns the forest as nested nodes.
func (h *Hierarchy) Tree() []*PermissionNode {
	var build func(idx []int) []*PermissionNode
	build = func(idx []int) []*PermissionNode {
		out := make([]*PermissionNode, 0, len(idx))
		for _, i := range idx {
			out = append(out, &PermissionNode{
				Permission: *h.nodes[i].perm,
				Children:   build(h.nodes[i].children),
			})
		}
		return out
	}
	return build(h.roots)
}

func (h *Hierarchy) walk(idx []int, fn func(int)) {
	for _, i := range idx {
		fn(i)
		h.walk(h.nodes[i].children, fn)
	}
}
