package state

import (
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
	"pgregory.net/rapid"

	"navsync/internal/domain"
	"navsync/internal/tree"
)

func rec(id, parent string) domain.NodeRecord {
	return domain.NewRecord(domain.NodeID(id), domain.NodeID(parent), "node "+id, domain.StatusIdle)
}

// sample is
//
//	1
//	├ 3
//	│ └ 4
//	└ 5
//	2
//	└ 6
func sample() *tree.Forest {
	return tree.Build([]domain.NodeRecord{
		rec("1", ""),
		rec("2", ""),
		rec("3", "1"),
		rec("4", "3"),
		rec("5", "1"),
		rec("6", "2"),
	})
}

func expandedIDs(appState *State) map[domain.NodeID]bool {
	out := map[domain.NodeID]bool{}
	for id, open := range appState.Expanded {
		if open {
			out[id] = true
		}
	}
	return out
}

func TestToggleUnloadedNodeRequestsFetch(t *testing.T) {
	forest := sample()
	appState := NewState()

	assert.Equal(t, true, appState.Toggle(forest, "1"))
	assert.Equal(t, true, appState.IsExpanded("1"))
	assert.Equal(t, domain.NodeID("1"), appState.ActiveID)
}

func TestToggleCollapsesWholeSubtree(t *testing.T) {
	forest := sample()
	appState := NewState()
	appState.Toggle(forest, "1")
	appState.Toggle(forest, "3")
	assert.Equal(t, map[domain.NodeID]bool{"1": true, "3": true}, expandedIDs(appState))

	assert.Equal(t, false, appState.Toggle(forest, "1"))
	assert.Equal(t, 0, len(expandedIDs(appState)))
	assert.Equal(t, domain.NodeID("1"), appState.ActiveID)
}

func TestToggleClosesSiblingSubtrees(t *testing.T) {
	forest := sample()
	appState := NewState()
	appState.Toggle(forest, "1")
	appState.Toggle(forest, "3")

	appState.Toggle(forest, "2")
	assert.Equal(t, map[domain.NodeID]bool{"2": true}, expandedIDs(appState))

	appState.Toggle(forest, "1")
	appState.Toggle(forest, "5")
	appState.Toggle(forest, "3")
	assert.Equal(t, map[domain.NodeID]bool{"1": true, "3": true}, expandedIDs(appState))
}

func TestToggleConfirmedLeafOnlyActivates(t *testing.T) {
	forest, ok := tree.Attach(sample(), "3", []domain.NodeRecord{
		rec("4", "3").WithHasChildren(false),
	}, 1)
	assert.Equal(t, true, ok)
	leaf, _ := forest.Find("4")
	assert.Equal(t, true, leaf.IsLeaf())

	appState := NewState()
	assert.Equal(t, false, appState.Toggle(forest, "4"))
	assert.Equal(t, false, appState.IsExpanded("4"))
	assert.Equal(t, domain.NodeID("4"), appState.ActiveID)

	// a loaded parent expands without a fetch
	assert.Equal(t, false, appState.Toggle(forest, "3"))
	assert.Equal(t, true, appState.IsExpanded("3"))
}

func TestToggleUnknownIDIsIgnored(t *testing.T) {
	appState := NewState()
	appState.ActiveID = "1"
	assert.Equal(t, false, appState.Toggle(sample(), "99"))
	assert.Equal(t, domain.NodeID("1"), appState.ActiveID)
	assert.Equal(t, 0, len(appState.Expanded))
}

func TestVisibleFollowsExpansion(t *testing.T) {
	forest := sample()
	appState := NewState()
	assert.Equal(t, map[domain.NodeID]bool{"1": true, "2": true}, appState.VisibleIDs(forest))

	appState.Toggle(forest, "1")
	assert.Equal(t, map[domain.NodeID]bool{"1": true, "2": true, "3": true, "5": true}, appState.VisibleIDs(forest))

	var rows []string
	for _, row := range appState.VisibleNodes(forest) {
		rows = append(rows, fmt.Sprintf("%s@%d", row.Node.ID, row.Depth))
	}
	assert.Equal(t, []string{"1@0", "3@1", "5@1", "2@0"}, rows)

	// an expanded node below a collapsed ancestor stays hidden
	appState.Expanded["6"] = true
	assert.Equal(t, false, appState.VisibleIDs(forest)["6"])
}

func TestPruneDropsMissingIDs(t *testing.T) {
	forest := sample()
	appState := NewState()
	appState.Toggle(forest, "2")
	appState.Expanded["gone"] = true
	appState.ActiveID = "gone"
	appState.Cursor = 10

	appState.Prune(forest)
	assert.Equal(t, map[domain.NodeID]bool{"2": true}, expandedIDs(appState))
	assert.Equal(t, domain.RootID, appState.ActiveID)
	assert.Equal(t, 2, appState.Cursor)
}

func TestCursorAndActiveChildren(t *testing.T) {
	forest := sample()
	appState := NewState()
	appState.Toggle(forest, "1")

	appState.MoveCursor(forest, 1)
	assert.Equal(t, domain.NodeID("3"), appState.CurrentNode(forest).ID)
	appState.MoveCursor(forest, 10)
	assert.Equal(t, domain.NodeID("2"), appState.CurrentNode(forest).ID)
	appState.MoveCursor(forest, -10)
	assert.Equal(t, domain.NodeID("1"), appState.CurrentNode(forest).ID)

	assert.Equal(t, domain.NodeID("1"), appState.ActiveNode(forest).ID)
	children := appState.ActiveChildren(forest)
	assert.Equal(t, 2, len(children))
	assert.Equal(t, domain.NodeID("3"), children[0].ID)

	appState.ActiveID = domain.RootID
	assert.Equal(t, 0, len(appState.ActiveChildren(forest)))
	assert.Equal(t, true, appState.ActiveNode(forest) == nil)
}

func genForest(t *rapid.T) *tree.Forest {
	n := rapid.IntRange(1, 15).Draw(t, "n")
	records := make([]domain.NodeRecord, 0, n)
	for i := 1; i <= n; i++ {
		parent := ""
		if p := rapid.IntRange(0, i-1).Draw(t, fmt.Sprintf("parent%d", i)); p > 0 {
			parent = fmt.Sprint(p)
		}
		records = append(records, rec(fmt.Sprint(i), parent))
	}
	return tree.Build(records)
}

func TestAccordionProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		forest := genForest(t)
		all := tree.Flatten(forest)
		appState := NewState()
		steps := rapid.IntRange(0, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			target := rapid.SampledFrom(all).Draw(t, "target")
			appState.Toggle(forest, target.ID)
		}

		open := map[domain.NodeID]int{}
		for id := range expandedIDs(appState) {
			node, _ := forest.Find(id)
			group := node.ParentID
			if node.Orphan {
				group = domain.RootID
			}
			open[group]++
			if open[group] > 1 {
				t.Fatalf("sibling group under %q has %d open members", group, open[group])
			}
		}

		for id := range appState.VisibleIDs(forest) {
			for _, ancestor := range forest.Ancestors(id) {
				if !appState.IsExpanded(ancestor) {
					t.Fatalf("%s visible while ancestor %s is collapsed", id, ancestor)
				}
			}
		}
	})
}
