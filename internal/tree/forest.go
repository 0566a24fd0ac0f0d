// Package tree keeps the canonical node forest. A Forest is immutable once
// returned: every structural update produces a new Forest that shares all
// untouched *domain.Node values with its predecessor.
package tree

import "navsync/internal/domain"

type Forest struct {
	nodes map[domain.NodeID]*domain.Node
	roots []domain.NodeID
}

func Empty() *Forest {
	return &Forest{nodes: map[domain.NodeID]*domain.Node{}}
}

func (forest *Forest) Len() int {
	if forest == nil {
		return 0
	}
	return len(forest.nodes)
}

// Find returns the node with the given id. Ids are unique across the forest,
// so the first depth-first match and the index lookup agree.
func (forest *Forest) Find(id domain.NodeID) (*domain.Node, bool) {
	if forest == nil {
		return nil, false
	}
	node, ok := forest.nodes[id]
	return node, ok
}

func (forest *Forest) RootIDs() []domain.NodeID {
	if forest == nil {
		return nil
	}
	return append([]domain.NodeID{}, forest.roots...)
}

func (forest *Forest) Roots() []*domain.Node {
	if forest == nil {
		return nil
	}
	return forest.resolve(forest.roots)
}

func (forest *Forest) Children(id domain.NodeID) []*domain.Node {
	node, ok := forest.Find(id)
	if !ok {
		return nil
	}
	return forest.resolve(node.ChildIDs)
}

// Siblings returns the sibling group id belongs to, itself included.
func (forest *Forest) Siblings(id domain.NodeID) []*domain.Node {
	node, ok := forest.Find(id)
	if !ok {
		return nil
	}
	if node.ParentID.IsRoot() || node.Orphan {
		return forest.Roots()
	}
	return forest.Children(node.ParentID)
}

// Descendants lists every id below id, depth-first, excluding id itself.
func (forest *Forest) Descendants(id domain.NodeID) []domain.NodeID {
	var out []domain.NodeID
	node, ok := forest.Find(id)
	if !ok {
		return nil
	}
	stack := make([]domain.NodeID, 0, len(node.ChildIDs))
	for i := len(node.ChildIDs) - 1; i >= 0; i-- {
		stack = append(stack, node.ChildIDs[i])
	}
	for len(stack) > 0 {
		last := len(stack) - 1
		current := stack[last]
		stack = stack[:last]
		child, ok := forest.nodes[current]
		if !ok {
			continue
		}
		out = append(out, current)
		for i := len(child.ChildIDs) - 1; i >= 0; i-- {
			stack = append(stack, child.ChildIDs[i])
		}
	}
	return out
}

// Ancestors returns the parent chain of id, nearest first.
func (forest *Forest) Ancestors(id domain.NodeID) []domain.NodeID {
	var out []domain.NodeID
	node, ok := forest.Find(id)
	for ok && !node.ParentID.IsRoot() && !node.Orphan && len(out) <= len(forest.nodes) {
		out = append(out, node.ParentID)
		node, ok = forest.nodes[node.ParentID]
	}
	return out
}

// Walk visits nodes in pre-order. Returning false from fn skips the subtree.
func (forest *Forest) Walk(fn func(node *domain.Node, depth int) bool) {
	if forest == nil {
		return
	}
	var visit func(ids []domain.NodeID, depth int)
	visit = func(ids []domain.NodeID, depth int) {
		for _, id := range ids {
			node, ok := forest.nodes[id]
			if !ok {
				continue
			}
			if fn(node, depth) {
				visit(node.ChildIDs, depth+1)
			}
		}
	}
	visit(forest.roots, 0)
}

// Flatten produces every node exactly once in pre-order.
func Flatten(forest *Forest) []*domain.Node {
	out := make([]*domain.Node, 0, forest.Len())
	forest.Walk(func(node *domain.Node, _ int) bool {
		out = append(out, node)
		return true
	})
	return out
}

// Records flattens the forest back into wire records.
func Records(forest *Forest) []domain.NodeRecord {
	nodes := Flatten(forest)
	out := make([]domain.NodeRecord, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.Record())
	}
	return out
}

// Build turns a flat list into a forest in two passes. Pass one creates a
// fresh node per record; pass two links every node under its parent. A node
// whose parent is missing from the batch becomes a provisional root marked
// Orphan and is adopted once the parent shows up. Duplicate ids keep their
// first occurrence. A record that declares no children is a confirmed leaf.
func Build(records []domain.NodeRecord) *Forest {
	return buildStamped(records, 0)
}

func buildStamped(records []domain.NodeRecord, stamp uint64) *Forest {
	forest := &Forest{nodes: make(map[domain.NodeID]*domain.Node, len(records))}
	order := make([]domain.NodeID, 0, len(records))
	kept := make([]domain.NodeRecord, 0, len(records))
	for _, record := range records {
		if record.ID == domain.RootID {
			continue
		}
		if _, dup := forest.nodes[record.ID]; dup {
			continue
		}
		node := record.Node()
		node.ChildIDs = nil
		node.ChildrenLoaded = false
		node.Version = stamp
		forest.nodes[record.ID] = node
		order = append(order, record.ID)
		kept = append(kept, record)
	}

	for _, id := range order {
		node := forest.nodes[id]
		if node.ParentID.IsRoot() {
			forest.roots = append(forest.roots, id)
			continue
		}
		parent, ok := forest.nodes[node.ParentID]
		if !ok || node.ParentID == id {
			node.Orphan = true
			forest.roots = append(forest.roots, id)
			continue
		}
		parent.ChildIDs = append(parent.ChildIDs, id)
		parent.HasChildren = true
	}

	forest.breakCycles(order)
	for i, id := range order {
		settle(forest.nodes[id], kept[i])
	}
	return forest
}

// breakCycles promotes the first unreachable node of every parent cycle to a
// provisional root so the structure stays a forest.
func (forest *Forest) breakCycles(order []domain.NodeID) {
	reached := make(map[domain.NodeID]bool, len(forest.nodes))
	mark := func(start domain.NodeID) {
		stack := []domain.NodeID{start}
		for len(stack) > 0 {
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if reached[id] {
				continue
			}
			reached[id] = true
			stack = append(stack, forest.nodes[id].ChildIDs...)
		}
	}
	for _, id := range forest.roots {
		mark(id)
	}
	if len(reached) == len(forest.nodes) {
		return
	}
	for _, id := range order {
		if reached[id] {
			continue
		}
		node := forest.nodes[id]
		if parent, ok := forest.nodes[node.ParentID]; ok {
			parent.ChildIDs = without(parent.ChildIDs, id)
			parent.HasChildren = len(parent.ChildIDs) > 0
		}
		node.Orphan = true
		forest.roots = append(forest.roots, id)
		mark(id)
	}
}

func (forest *Forest) resolve(ids []domain.NodeID) []*domain.Node {
	out := make([]*domain.Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := forest.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

func without(ids []domain.NodeID, target domain.NodeID) []domain.NodeID {
	out := make([]domain.NodeID, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func containsID(ids []domain.NodeID, target domain.NodeID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}
