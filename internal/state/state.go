// Package state holds the user's view of the forest: which nodes are
// expanded, which node is active and where the cursor sits. It never talks to
// the network; callers decide what to fetch from the values it returns.
package state

import (
	"navsync/internal/domain"
	"navsync/internal/tree"
)

type State struct {
	Expanded map[domain.NodeID]bool
	ActiveID domain.NodeID
	Cursor   int
}

func NewState() *State {
	return &State{
		Expanded: make(map[domain.NodeID]bool),
	}
}

// Expandable trusts a declared leaf and otherwise treats an unloaded subtree
// as worth opening.
func Expandable(node *domain.Node) bool {
	if node == nil {
		return false
	}
	if node.HasChildren || len(node.ChildIDs) > 0 {
		return true
	}
	return !node.ChildrenLoaded
}

func (appState *State) IsExpanded(id domain.NodeID) bool {
	return appState.Expanded[id]
}

// Toggle opens or closes id and makes it the active node. Opening a node
// closes every sibling subtree first, so each sibling group has at most one
// open member. needFetch reports that the children are not loaded yet.
func (appState *State) Toggle(forest *tree.Forest, id domain.NodeID) (needFetch bool) {
	node, ok := forest.Find(id)
	if !ok {
		return false
	}
	appState.ActiveID = id
	if !Expandable(node) {
		return false
	}
	if appState.Expanded[id] {
		appState.collapse(forest, id)
		return false
	}
	for _, sibling := range forest.Siblings(id) {
		if sibling.ID != id {
			appState.collapse(forest, sibling.ID)
		}
	}
	appState.Expanded[id] = true
	return !node.ChildrenLoaded
}

func (appState *State) collapse(forest *tree.Forest, id domain.NodeID) {
	delete(appState.Expanded, id)
	for _, descendant := range forest.Descendants(id) {
		delete(appState.Expanded, descendant)
	}
}

// Prune forgets expanded and active ids that left the forest.
func (appState *State) Prune(forest *tree.Forest) {
	for id := range appState.Expanded {
		if _, ok := forest.Find(id); !ok {
			delete(appState.Expanded, id)
		}
	}
	if _, ok := forest.Find(appState.ActiveID); !ok {
		appState.ActiveID = domain.RootID
	}
	if rows := len(appState.VisibleNodes(forest)); appState.Cursor >= rows {
		appState.Cursor = rows - 1
	}
	if appState.Cursor < 0 {
		appState.Cursor = 0
	}
}

type VisibleNode struct {
	Node  *domain.Node
	Depth int
}

// VisibleNodes lists the rendered rows in pre-order. A node is listed when
// every ancestor on its path is expanded.
func (appState *State) VisibleNodes(forest *tree.Forest) []VisibleNode {
	visible := make([]VisibleNode, 0, forest.Len())
	forest.Walk(func(node *domain.Node, depth int) bool {
		visible = append(visible, VisibleNode{Node: node, Depth: depth})
		return appState.Expanded[node.ID]
	})
	return visible
}

func (appState *State) VisibleIDs(forest *tree.Forest) map[domain.NodeID]bool {
	ids := make(map[domain.NodeID]bool)
	forest.Walk(func(node *domain.Node, _ int) bool {
		ids[node.ID] = true
		return appState.Expanded[node.ID]
	})
	return ids
}

func (appState *State) CurrentNode(forest *tree.Forest) *domain.Node {
	visible := appState.VisibleNodes(forest)
	if len(visible) == 0 || appState.Cursor < 0 || appState.Cursor >= len(visible) {
		return nil
	}
	return visible[appState.Cursor].Node
}

func (appState *State) MoveCursor(forest *tree.Forest, delta int) {
	rows := len(appState.VisibleNodes(forest))
	appState.Cursor += delta
	if appState.Cursor >= rows {
		appState.Cursor = rows - 1
	}
	if appState.Cursor < 0 {
		appState.Cursor = 0
	}
}

func (appState *State) ActiveNode(forest *tree.Forest) *domain.Node {
	node, ok := forest.Find(appState.ActiveID)
	if !ok {
		return nil
	}
	return node
}

// ActiveChildren feeds the child status panel of the active node.
func (appState *State) ActiveChildren(forest *tree.Forest) []*domain.Node {
	if appState.ActiveID.IsRoot() {
		return nil
	}
	return forest.Children(appState.ActiveID)
}
