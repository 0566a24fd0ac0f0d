package ui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"navsync/internal/domain"
	"navsync/internal/navigator"
)

// Navigator is the part of navigator.Navigator the TUI drives.
type Navigator interface {
	View() navigator.View
	MoveCursor(delta int)
	Toggle(ctx context.Context, id domain.NodeID) error
	Refresh(ctx context.Context) error
	ReloadActive(ctx context.Context) error
	ClearNotifications()
	Tick()
}

type Model struct {
	navigator    Navigator
	ctx          context.Context
	keys         KeyMap
	view         navigator.View
	showHelp     bool
	showChildren bool
	status       string
	source       string
	width        int
	height       int
	viewTop      int
}

func NewModel(ctx context.Context, nav Navigator, source string) Model {
	return Model{
		navigator:    nav,
		ctx:          ctx,
		keys:         DefaultKeyMap(),
		view:         nav.View(),
		showChildren: true,
		status:       "Connecting...",
		source:       source,
		width:        100,
		height:       30,
	}
}

func (model Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (model Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.KeyMsg:
		return model.handleKey(typed)
	case tea.WindowSizeMsg:
		model.width = typed.Width
		model.height = typed.Height
		model.ensureCursorVisible()
		return model, nil
	case ChangedMsg:
		model.view = model.navigator.View()
		if model.status == "Connecting..." && len(model.view.Rows) > 0 {
			model.status = fmt.Sprintf("Synced %d top-level nodes", countRoots(model.view))
		}
		model.ensureCursorVisible()
		return model, nil
	case tickMsg:
		model.navigator.Tick()
		model.view = model.navigator.View()
		return model, tickCmd()
	case toggleResultMsg:
		model.view = model.navigator.View()
		if typed.err != nil && !errors.Is(typed.err, context.Canceled) {
			model.status = fmt.Sprintf("Load error for %s: %v", typed.id, typed.err)
		}
		model.ensureCursorVisible()
		return model, nil
	case refreshResultMsg:
		model.view = model.navigator.View()
		if typed.err != nil {
			model.status = fmt.Sprintf("Refresh error: %v", typed.err)
		} else {
			model.status = fmt.Sprintf("Refreshed at %s", time.Now().Format("15:04:05"))
		}
		model.ensureCursorVisible()
		return model, nil
	default:
		return model, nil
	}
}

func (model Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(msg, model.keys.Help):
		model.showHelp = !model.showHelp
		return model, nil
	case key.Matches(msg, model.keys.Up):
		model.navigator.MoveCursor(-1)
		model.view = model.navigator.View()
		model.ensureCursorVisible()
		return model, nil
	case key.Matches(msg, model.keys.Down):
		model.navigator.MoveCursor(1)
		model.view = model.navigator.View()
		model.ensureCursorVisible()
		return model, nil
	case key.Matches(msg, model.keys.Toggle):
		node := model.currentNode()
		if node == nil {
			return model, nil
		}
		return model, model.toggleCmd(node.ID)
	case key.Matches(msg, model.keys.Refresh):
		model.status = "Refreshing..."
		return model, model.refreshCmd()
	case key.Matches(msg, model.keys.Children):
		model.showChildren = !model.showChildren
		if model.showChildren {
			return model, model.reloadCmd()
		}
		return model, nil
	case key.Matches(msg, model.keys.Clear):
		model.navigator.ClearNotifications()
		model.view = model.navigator.View()
		return model, nil
	default:
		return model, nil
	}
}

func (model Model) toggleCmd(id domain.NodeID) tea.Cmd {
	nav, ctx := model.navigator, model.ctx
	return func() tea.Msg {
		return toggleResultMsg{id: id, err: nav.Toggle(ctx, id)}
	}
}

func (model Model) refreshCmd() tea.Cmd {
	nav, ctx := model.navigator, model.ctx
	return func() tea.Msg {
		return refreshResultMsg{err: nav.Refresh(ctx)}
	}
}

func (model Model) reloadCmd() tea.Cmd {
	nav, ctx, id := model.navigator, model.ctx, activeID(model.view)
	return func() tea.Msg {
		return toggleResultMsg{id: id, err: nav.ReloadActive(ctx)}
	}
}

func (model Model) currentNode() *domain.Node {
	rows := model.view.Rows
	if model.view.Cursor < 0 || model.view.Cursor >= len(rows) {
		return nil
	}
	return rows[model.view.Cursor].Node
}

func (model *Model) ensureCursorVisible() {
	rows := len(model.view.Rows)
	listHeight := model.listHeight()
	if rows == 0 || listHeight <= 0 {
		model.viewTop = 0
		return
	}
	cursor := clamp(model.view.Cursor, 0, rows-1)
	if cursor < model.viewTop {
		model.viewTop = cursor
	}
	if cursor >= model.viewTop+listHeight {
		model.viewTop = cursor - listHeight + 1
	}
	model.viewTop = clamp(model.viewTop, 0, maxInt(rows-listHeight, 0))
}

// listHeight is the number of tree rows that fit between the header and the
// two footer lines.
func (model *Model) listHeight() int {
	return model.height - 5
}

func activeID(view navigator.View) domain.NodeID {
	if view.Active == nil {
		return domain.RootID
	}
	return view.Active.ID
}

func countRoots(view navigator.View) int {
	count := 0
	for _, row := range view.Rows {
		if row.Depth == 0 {
			count++
		}
	}
	return count
}
