package tree

import (
	"slices"

	"navsync/internal/domain"
)

// Accepts reports whether a write stamped with stamp may overwrite node.
// Logical stamps decide first; when both sides carry a server revision an
// older revision is rejected as well.
func Accepts(node *domain.Node, record domain.NodeRecord, stamp uint64) bool {
	if node == nil {
		return true
	}
	if stamp < node.Version {
		return false
	}
	if record.Revision > 0 && node.Revision > 0 && record.Revision < node.Revision {
		return false
	}
	return true
}

// Merge applies a single node update. Fields the record carries win, the
// rest are kept, and the node's children, HasChildren and ChildrenLoaded
// survive the merge. An unknown id is added under its parent when the parent
// is loaded; a record without a parent, or under a parent that is not loaded,
// is left for the fetch that loads that parent. A known node that moves below
// an unloaded parent leaves the forest. The bool is false when nothing changed.
func Merge(forest *Forest, record domain.NodeRecord, stamp uint64) (*Forest, bool) {
	if record.ID == domain.RootID {
		return forest, false
	}
	b := newBuilder(forest)
	if !b.upsert(record, stamp) || !b.changed {
		return forest, false
	}
	return b.forest(), true
}

// Attach installs the authoritative child list of id. Existing children keep
// their own loaded subtrees; children missing from the list are dropped unless
// a newer write touched them after the fetch was issued. A listed child that
// does not say whether it has children of its own is recorded as a confirmed
// leaf unless it already has linked children or declared some earlier. Only
// the target, the changed children and former parents of moved children are
// copied. The input forest is returned when the listing changes nothing.
func Attach(forest *Forest, id domain.NodeID, children []domain.NodeRecord, stamp uint64) (*Forest, bool) {
	target, ok := forest.Find(id)
	if !ok {
		return forest, false
	}
	incoming := make(map[domain.NodeID]bool, len(children))
	for _, record := range children {
		incoming[record.ID] = true
	}

	b := newBuilder(forest)
	for _, childID := range target.ChildIDs {
		if incoming[childID] {
			continue
		}
		if child, ok := b.nodes[childID]; ok && child.Version > stamp {
			continue
		}
		b.remove(childID)
	}
	for _, record := range children {
		if record.ID == id || record.ID == domain.RootID {
			continue
		}
		record = record.WithParent(id)
		if !record.Has(domain.FieldHasChildren) && b.shapeUnknown(record.ID) {
			record = record.WithHasChildren(false)
		}
		b.upsert(record, stamp)
	}

	current := b.nodes[id]
	childIDs := reorder(current.ChildIDs, children)
	if !b.changed && current.ChildrenLoaded && current.HasChildren == (len(childIDs) > 0) && slices.Equal(current.ChildIDs, childIDs) {
		return forest, true
	}
	node := b.mutable(id)
	node.ChildIDs = childIDs
	node.ChildrenLoaded = true
	node.HasChildren = len(node.ChildIDs) > 0
	return b.forest(), true
}

// Reconcile applies an authoritative top-level listing. Roots missing from
// the listing are removed unless they were written after the listing was
// requested; provisional orphans go too, they return with their parent's
// children. Loaded subtrees of surviving nodes are kept. The input forest is
// returned when the listing changes nothing.
func Reconcile(forest *Forest, records []domain.NodeRecord, stamp uint64) *Forest {
	listed := make(map[domain.NodeID]bool, len(records))
	normalized := make([]domain.NodeRecord, 0, len(records))
	for _, record := range records {
		if !record.Has(domain.FieldParent) {
			record = record.WithParent(domain.RootID)
		}
		listed[record.ID] = true
		normalized = append(normalized, record)
	}

	b := newBuilder(forest)
	for _, rootID := range append([]domain.NodeID{}, b.roots...) {
		node := b.nodes[rootID]
		if listed[rootID] || node.Version > stamp {
			continue
		}
		b.remove(rootID)
	}
	// roots first so nested records in the same listing find their parent
	for _, roots := range []bool{true, false} {
		for _, record := range normalized {
			if record.ID == domain.RootID || record.ParentID.IsRoot() != roots {
				continue
			}
			b.upsert(record, stamp)
		}
	}
	if roots := reorder(b.roots, normalized); !slices.Equal(roots, b.roots) {
		b.roots = roots
		b.changed = true
	}
	if !b.changed {
		return forest
	}
	return b.forest()
}

// builder is a copy-on-write working set over a Forest. The node map is
// copied once; a node is cloned the first time it is written. changed is set
// by every write.
type builder struct {
	nodes   map[domain.NodeID]*domain.Node
	roots   []domain.NodeID
	owned   map[domain.NodeID]bool
	changed bool
}

func newBuilder(forest *Forest) *builder {
	if forest == nil {
		forest = Empty()
	}
	nodes := make(map[domain.NodeID]*domain.Node, len(forest.nodes)+1)
	for id, node := range forest.nodes {
		nodes[id] = node
	}
	return &builder{
		nodes: nodes,
		roots: append([]domain.NodeID{}, forest.roots...),
		owned: map[domain.NodeID]bool{},
	}
}

func (b *builder) forest() *Forest {
	return &Forest{nodes: b.nodes, roots: b.roots}
}

func (b *builder) mutable(id domain.NodeID) *domain.Node {
	b.changed = true
	node := b.nodes[id]
	if b.owned[id] {
		return node
	}
	clone := node.Clone()
	b.nodes[id] = clone
	b.owned[id] = true
	return clone
}

func (b *builder) upsert(record domain.NodeRecord, stamp uint64) bool {
	existing, ok := b.nodes[record.ID]
	if !Accepts(existing, record, stamp) {
		return false
	}
	if !ok {
		if !record.Has(domain.FieldParent) || !b.loaded(record.ParentID) {
			return false
		}
		node := record.Node()
		node.Version = stamp
		settle(node, record)
		b.changed = true
		b.nodes[node.ID] = node
		b.owned[node.ID] = true
		b.link(node)
		b.adopt(node.ID)
		return true
	}
	if record.Has(domain.FieldParent) && record.ParentID != existing.ParentID && !b.loaded(record.ParentID) {
		b.remove(record.ID)
		return true
	}
	if b.unchanged(existing, record, stamp) {
		return true
	}

	node := b.mutable(record.ID)
	oldParent, wasOrphan := node.ParentID, node.Orphan
	record.Apply(node)
	_, parentKnown := b.nodes[node.ParentID]
	if node.ParentID != oldParent || (wasOrphan && parentKnown) {
		if node.ParentID == node.ID || b.isDescendant(node.ParentID, node.ID) {
			node.ParentID = oldParent
		} else {
			b.unlink(node.ID, oldParent, wasOrphan)
			b.link(node)
		}
	}
	settle(node, record)
	if stamp > node.Version {
		node.Version = stamp
	}
	return true
}

// loaded reports whether a node can be placed under parentID right now.
func (b *builder) loaded(parentID domain.NodeID) bool {
	if parentID.IsRoot() {
		return true
	}
	_, ok := b.nodes[parentID]
	return ok
}

// shapeUnknown reports whether nothing is known yet about the children of id.
func (b *builder) shapeUnknown(id domain.NodeID) bool {
	node, ok := b.nodes[id]
	return !ok || (len(node.ChildIDs) == 0 && !node.HasChildren)
}

// unchanged reports whether applying record to node would leave it as is.
func (b *builder) unchanged(node *domain.Node, record domain.NodeRecord, stamp uint64) bool {
	if stamp > node.Version {
		return false
	}
	if node.Orphan && b.loaded(node.ParentID) {
		return false
	}
	next := node.Clone()
	record.Apply(next)
	settle(next, record)
	return next.ParentID == node.ParentID &&
		next.Label == node.Label &&
		next.Status == node.Status &&
		next.HasChildren == node.HasChildren &&
		next.ChildrenLoaded == node.ChildrenLoaded &&
		next.Revision == node.Revision
}

// settle keeps HasChildren consistent with linked children. A record that
// explicitly declares no children makes an empty node a confirmed leaf.
func settle(node *domain.Node, record domain.NodeRecord) {
	if len(node.ChildIDs) > 0 {
		node.HasChildren = true
		return
	}
	if record.Has(domain.FieldHasChildren) && !record.HasChildren {
		node.ChildrenLoaded = true
	}
}

// link places a node that is not referenced anywhere yet.
func (b *builder) link(node *domain.Node) {
	if node.ParentID.IsRoot() {
		node.Orphan = false
		b.roots = append(b.roots, node.ID)
		return
	}
	if _, ok := b.nodes[node.ParentID]; !ok || node.ParentID == node.ID {
		node.Orphan = true
		b.roots = append(b.roots, node.ID)
		return
	}
	node.Orphan = false
	parent := b.mutable(node.ParentID)
	if !containsID(parent.ChildIDs, node.ID) {
		parent.ChildIDs = append(parent.ChildIDs, node.ID)
	}
	parent.HasChildren = true
}

func (b *builder) unlink(id, parentID domain.NodeID, orphan bool) {
	if parentID.IsRoot() || orphan {
		b.roots = without(b.roots, id)
		return
	}
	if _, ok := b.nodes[parentID]; !ok {
		b.roots = without(b.roots, id)
		return
	}
	parent := b.mutable(parentID)
	parent.ChildIDs = without(parent.ChildIDs, id)
	if len(parent.ChildIDs) == 0 && parent.ChildrenLoaded {
		parent.HasChildren = false
	}
}

// adopt re-links provisional roots that were waiting for parentID.
func (b *builder) adopt(parentID domain.NodeID) {
	for _, rootID := range append([]domain.NodeID{}, b.roots...) {
		root := b.nodes[rootID]
		if !root.Orphan || root.ParentID != parentID {
			continue
		}
		if b.isDescendant(parentID, rootID) {
			continue
		}
		b.roots = without(b.roots, rootID)
		b.link(b.mutable(rootID))
	}
}

func (b *builder) remove(id domain.NodeID) {
	node, ok := b.nodes[id]
	if !ok {
		return
	}
	b.changed = true
	b.unlink(id, node.ParentID, node.Orphan)
	stack := []domain.NodeID{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if child, ok := b.nodes[current]; ok {
			stack = append(stack, child.ChildIDs...)
		}
		delete(b.nodes, current)
		delete(b.owned, current)
	}
}

// isDescendant reports whether candidate sits below ancestor.
func (b *builder) isDescendant(candidate, ancestor domain.NodeID) bool {
	current := candidate
	for steps := 0; steps <= len(b.nodes); steps++ {
		node, ok := b.nodes[current]
		if !ok || node.Orphan || node.ParentID.IsRoot() {
			return false
		}
		if node.ParentID == ancestor {
			return true
		}
		current = node.ParentID
	}
	return false
}

// reorder puts ids listed in records first, in listing order, followed by the
// remaining ids in their previous order.
func reorder(ids []domain.NodeID, records []domain.NodeRecord) []domain.NodeID {
	present := make(map[domain.NodeID]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	out := make([]domain.NodeID, 0, len(ids))
	seen := make(map[domain.NodeID]bool, len(ids))
	for _, record := range records {
		if present[record.ID] && !seen[record.ID] {
			out = append(out, record.ID)
			seen[record.ID] = true
		}
	}
	for _, id := range ids {
		if !seen[id] {
			out = append(out, id)
			seen[id] = true
		}
	}
	return out
}
