package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"navsync/internal/domain"
	"navsync/internal/navigator"
	"navsync/internal/notify"
	"navsync/internal/state"
)

type uiStyles struct {
	headerStyle lipgloss.Style
	mutedStyle  lipgloss.Style
	statusStyle lipgloss.Style
	warnStyle   lipgloss.Style
	cursorStyle lipgloss.Style
	panelBorder lipgloss.Style
	statuses    map[domain.Status]lipgloss.Style
}

func defaultStyles() uiStyles {
	return uiStyles{
		headerStyle: lipgloss.NewStyle().Bold(true),
		mutedStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		statusStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true),
		warnStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true),
		cursorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true),
		panelBorder: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		statuses: map[domain.Status]lipgloss.Style{
			domain.StatusIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			domain.StatusInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			domain.StatusActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		},
	}
}

func (model Model) View() string {
	styles := defaultStyles()
	if model.showHelp {
		return renderHelpView(model, styles)
	}
	body := renderBody(model, styles)
	footer := renderFooter(model, styles)
	return strings.Join([]string{body, footer}, "\n")
}

func renderBody(model Model, styles uiStyles) string {
	bodyHeight := maxInt(model.listHeight()+1, 3)
	leftWidth, rightWidth, showRight := splitPanels(model.width)
	left := renderTreePanel(model, styles, model.view.Rows, bodyHeight, leftWidth)
	if !showRight {
		return left
	}
	sep := lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Render("│")
	right := lipgloss.JoinVertical(lipgloss.Left,
		renderDetailPanel(model, styles, rightWidth),
		renderNotificationPanel(model, styles, rightWidth),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, sep, right)
}

func renderFooter(model Model, styles uiStyles) string {
	status := model.status
	statusStyle := styles.mutedStyle
	if model.view.LastError != nil {
		status = fmt.Sprintf("Sync warning: %v (showing last known state)", model.view.LastError)
		statusStyle = styles.warnStyle
	} else if strings.Contains(strings.ToLower(status), "error") {
		statusStyle = styles.warnStyle
	}
	statusLine := statusStyle.Render(trimStatus(status, model.width))

	left := fmt.Sprintf("Source: %s  Nodes: %d shown  Alerts: %d", model.source, len(model.view.Rows), len(model.view.Notifications))
	keys := "↑/↓ move  enter expand  r refresh  i children  c clear  ? help  q quit"
	footerLine := padLine(left, keys, model.width)
	return strings.Join([]string{statusLine, styles.mutedStyle.Render(footerLine)}, "\n")
}

func renderTreePanel(model Model, styles uiStyles, visible []state.VisibleNode, height, width int) string {
	if width < 20 {
		width = 20
	}
	contentWidth := maxInt(width-2, 10)
	headerLine := padLine(styles.headerStyle.Render("NavSync"), styles.statusStyle.Render(syncLabel(model.view)), contentWidth)
	listHeight := maxInt(height-1, 1)
	if len(visible) == 0 {
		lines := []string{headerLine, "Waiting for the first listing..."}
		for len(lines) < height {
			lines = append(lines, "")
		}
		return styles.panelBorder.Width(contentWidth).Render(strings.Join(lines, "\n"))
	}
	start := clamp(model.viewTop, 0, maxInt(len(visible)-1, 0))
	end := start + listHeight
	if end > len(visible) {
		end = len(visible)
	}

	lines := make([]string, 0, height)
	lines = append(lines, headerLine)
	for index := start; index < end; index++ {
		item := visible[index]
		node := item.Node
		indent := strings.Repeat("  ", item.Depth)
		badge := statusBadge(styles, node.Status)
		labelWidth := maxInt(contentWidth-runewidth.StringWidth(indent)-lipgloss.Width(badge)-4, 4)
		label := runewidth.Truncate(node.Label, labelWidth, "…")
		line := padLine(fmt.Sprintf("%s%s %s", indent, expander(model.view, node), label), badge, contentWidth)
		if index == model.view.Cursor {
			line = styles.cursorStyle.Render(line)
		}
		lines = append(lines, line)
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return styles.panelBorder.Width(contentWidth).Render(strings.Join(lines, "\n"))
}

func renderDetailPanel(model Model, styles uiStyles, width int) string {
	contentWidth := maxInt(width-2, 10)
	node := model.view.Active
	if node == nil {
		return styles.panelBorder.Width(contentWidth).Render(styles.mutedStyle.Render("No active node - press enter on a row"))
	}
	lines := []string{
		styles.headerStyle.Render(runewidth.Truncate(node.Label, contentWidth, "…")),
		fmt.Sprintf("ID: %s", node.ID),
		fmt.Sprintf("Status: %s", statusBadge(styles, node.Status)),
		fmt.Sprintf("Children: %s", childrenLabel(node)),
	}
	if node.Orphan {
		lines = append(lines, styles.warnStyle.Render(fmt.Sprintf("Waiting for parent %s", node.ParentID)))
	}
	if model.showChildren {
		lines = append(lines, "", styles.headerStyle.Render("Child statuses"))
		if len(model.view.ActiveChildren) == 0 {
			lines = append(lines, styles.mutedStyle.Render("none loaded"))
		}
		for _, child := range model.view.ActiveChildren {
			label := runewidth.Truncate(child.Label, maxInt(contentWidth-12, 4), "…")
			lines = append(lines, padLine(label, statusBadge(styles, child.Status), contentWidth))
		}
	}
	return styles.panelBorder.Width(contentWidth).Render(strings.Join(lines, "\n"))
}

func renderNotificationPanel(model Model, styles uiStyles, width int) string {
	contentWidth := maxInt(width-2, 10)
	lines := []string{styles.headerStyle.Render("Notifications")}
	if len(model.view.Notifications) == 0 {
		lines = append(lines, styles.mutedStyle.Render("No recent changes"))
	}
	entries := model.view.Notifications
	// newest first
	for i := len(entries) - 1; i >= 0; i-- {
		lines = append(lines, notificationLine(entries[i], contentWidth))
	}
	return styles.panelBorder.Width(contentWidth).Render(strings.Join(lines, "\n"))
}

func notificationLine(entry notify.Entry, width int) string {
	countdown := fmt.Sprintf("%2ds", int(entry.Remaining.Seconds()))
	message := runewidth.Truncate(entry.Message(), maxInt(width-len(countdown)-1, 4), "…")
	return padLine(message, countdown, width)
}

func renderHelpView(model Model, styles uiStyles) string {
	lines := []string{styles.headerStyle.Render("NavSync Help"), ""}
	lines = append(lines, styles.headerStyle.Render("Tree"))
	lines = append(lines, "expanding a node closes its open siblings", "children load the first time a node opens")
	lines = append(lines, "", styles.headerStyle.Render("Sync"))
	lines = append(lines, "top level refreshes on a timer, pushes apply at once", "on errors the last known state stays on screen")
	lines = append(lines, "", styles.headerStyle.Render("Keys"))
	for _, binding := range model.keys.all() {
		keysLabel := strings.Join(binding.Keys(), ", ")
		lines = append(lines, fmt.Sprintf("%-18s %s", keysLabel, binding.Help().Desc))
	}
	lines = append(lines, "", "Press ? to close help")
	width := model.width
	if width <= 0 {
		width = 80
	}
	return styles.panelBorder.Width(maxInt(width-2, 10)).Render(strings.Join(lines, "\n"))
}

func syncLabel(view navigator.View) string {
	if view.LastError != nil {
		return "STALE"
	}
	return "LIVE"
}

func expander(view navigator.View, node *domain.Node) string {
	switch {
	case !state.Expandable(node):
		return "•"
	case view.Expanded[node.ID]:
		return "▾"
	default:
		return "▸"
	}
}

func statusBadge(styles uiStyles, status domain.Status) string {
	return styles.statuses[status].Render(strings.ToUpper(status.String()))
}

func childrenLabel(node *domain.Node) string {
	switch {
	case node.IsLeaf():
		return "none"
	case !node.ChildrenLoaded:
		return "not loaded"
	default:
		return fmt.Sprintf("%d", len(node.ChildIDs))
	}
}

func padLine(left, right string, width int) string {
	if width <= 0 {
		return left
	}
	space := width - lipgloss.Width(left) - lipgloss.Width(right)
	if space < 1 {
		return left + " " + right
	}
	return left + strings.Repeat(" ", space) + right
}

func splitPanels(width int) (int, int, bool) {
	if width < 80 {
		return width, 0, false
	}
	left := int(float64(width) * 0.55)
	if left < 40 {
		left = 40
	}
	right := width - left - 1
	if right < 30 {
		return width, 0, false
	}
	return left, right, true
}

func trimStatus(message string, width int) string {
	if width <= 0 {
		return message
	}
	return runewidth.Truncate(message, maxInt(width-1, 4), "...")
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
