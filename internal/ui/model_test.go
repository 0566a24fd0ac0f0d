package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-playground/assert/v2"

	"navsync/internal/domain"
	"navsync/internal/navigator"
	"navsync/internal/state"
)

type fakeNavigator struct {
	view     navigator.View
	toggled  []domain.NodeID
	moves    int
	cleared  bool
	ticks    int
	failWith error
}

func (fake *fakeNavigator) View() navigator.View { return fake.view }

func (fake *fakeNavigator) MoveCursor(delta int) {
	fake.moves += delta
	fake.view.Cursor = clamp(fake.view.Cursor+delta, 0, len(fake.view.Rows)-1)
}

func (fake *fakeNavigator) Toggle(ctx context.Context, id domain.NodeID) error {
	fake.toggled = append(fake.toggled, id)
	return fake.failWith
}

func (fake *fakeNavigator) Refresh(ctx context.Context) error      { return fake.failWith }
func (fake *fakeNavigator) ReloadActive(ctx context.Context) error { return nil }
func (fake *fakeNavigator) ClearNotifications()                    { fake.cleared = true }
func (fake *fakeNavigator) Tick()                                  { fake.ticks++ }

func newFake() *fakeNavigator {
	parent := &domain.Node{ID: "1", Label: "Parent", Status: domain.StatusIdle, HasChildren: true}
	leaf := &domain.Node{ID: "2", Label: "Leaf", Status: domain.StatusActive, ChildrenLoaded: true}
	return &fakeNavigator{view: navigator.View{
		Rows:     []state.VisibleNode{{Node: parent}, {Node: leaf}},
		Expanded: map[domain.NodeID]bool{},
	}}
}

func keyMsg(s string) tea.KeyMsg {
	if s == "enter" {
		return tea.KeyMsg{Type: tea.KeyEnter}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestToggleKeyRunsToggleForCurrentRow(t *testing.T) {
	fake := newFake()
	model := NewModel(context.Background(), fake, "demo")

	next, _ := model.Update(keyMsg("j"))
	model = next.(Model)
	assert.Equal(t, model.view.Cursor, 1)

	_, cmd := model.Update(keyMsg("enter"))
	assert.Equal(t, cmd != nil, true)
	msg := cmd()
	assert.Equal(t, len(fake.toggled), 1)
	assert.Equal(t, fake.toggled[0], domain.NodeID("2"))

	next, _ = model.Update(msg)
	model = next.(Model)
	assert.Equal(t, model.status, "Connecting...")
}

func TestToggleErrorShowsInStatus(t *testing.T) {
	fake := newFake()
	fake.failWith = errors.New("boom")
	model := NewModel(context.Background(), fake, "demo")

	_, cmd := model.Update(keyMsg("enter"))
	next, _ := model.Update(cmd())
	model = next.(Model)
	assert.Equal(t, strings.Contains(model.status, "Load error for 1"), true)
}

func TestTickAdvancesNotifications(t *testing.T) {
	fake := newFake()
	model := NewModel(context.Background(), fake, "demo")

	_, cmd := model.Update(tickMsg{})
	assert.Equal(t, cmd != nil, true)
	assert.Equal(t, fake.ticks, 1)

	model.Update(keyMsg("c"))
	assert.Equal(t, fake.cleared, true)
}

func TestViewRendersRowsAndStaleMarker(t *testing.T) {
	fake := newFake()
	fake.view.LastError = errors.New("offline")
	model := NewModel(context.Background(), fake, "demo")
	next, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 20})
	model = next.(Model)

	out := model.View()
	assert.Equal(t, strings.Contains(out, "▸ Parent"), true)
	assert.Equal(t, strings.Contains(out, "• Leaf"), true)
	assert.Equal(t, strings.Contains(out, "STALE"), true)
	assert.Equal(t, strings.Contains(out, "showing last known state"), true)
}

func TestSplitPanelsNarrowTerminal(t *testing.T) {
	left, right, show := splitPanels(60)
	assert.Equal(t, left, 60)
	assert.Equal(t, right, 0)
	assert.Equal(t, show, false)

	left, right, show = splitPanels(120)
	assert.Equal(t, left, 66)
	assert.Equal(t, right, 53)
	assert.Equal(t, show, true)
}
