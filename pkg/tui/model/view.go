package model

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	statusStopped = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusRestart = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(lipgloss.Color("205"))

	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errLineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	lineNumStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	statusBarH := 2
	logPaneH := max(a.height/2, 8)
	mainH := a.height - logPaneH - statusBarH - 2
	listW := a.width*2/5 - 2
	detailW := a.width - listW - 4

	// List pane
	list := a.renderList(listW, mainH)
	listPane := a.paneBox(PaneList, " Resources ", list, listW, mainH)

	// Detail pane
	detail := a.renderDetail(detailW, mainH)
	detailPane := a.paneBox(PaneDetail, " Detail ", detail, detailW, mainH)

	// Top row
	topRow := lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)

	// Log pane
	logs := a.renderLogs(a.width-4, logPaneH)
	logPane := a.paneBox(PaneLogs, a.logTitle(), logs, a.width-4, logPaneH)

	// Status bar
	statusBar := a.renderStatusBar()

	return lipgloss.JoinVertical(lipgloss.Left, topRow, logPane, statusBar)
}

func (a App) paneBox(pane Pane, title, content string, w, h int) string {
	style := paneStyle
	if a.activePane == pane {
		style = activePaneStyle
	}
	return style.Width(w).Height(h).Render(
		titleStyle.Render(title) + "\n" + content,
	)
}

func (a App) renderList(w, h int) string {
	resources := a.filteredResources()
	if len(resources) == 0 {
		return dimStyle.Render("no resources")
	}

	var b strings.Builder
	maxVisible := h - 2
	start := 0
	if a.selectedIdx >= maxVisible {
		start = a.selectedIdx - maxVisible + 1
	}

	for i := start; i < len(resources) && i-start < maxVisible; i++ {
		res := resources[i]
		indicator := statusIndicator(string(res.Status))
		name := truncate(res.Name, w-6)
		line := fmt.Sprintf(" %s %-*s", indicator, w-6, name)

		if i == a.selectedIdx {
			line = selectedStyle.Width(w).Render(line)
		}
		b.WriteString(line + "\n")
	}

	if a.mode == ModeSearch {
		b.WriteString("\n" + a.search.View())
	}

	return b.String()
}

func (a App) renderDetail(w, h int) string {
	res := a.selectedResource()
	if res == nil {
		return dimStyle.Render("select a resource")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Name:      %s\n", res.Name)
	fmt.Fprintf(&b, "ID:        %s\n", dimStyle.Render(res.ID))
	fmt.Fprintf(&b, "Kind:      %s\n", res.Kind)
	fmt.Fprintf(&b, "Status:    %s\n", colorStatus(string(res.Status)))

	if res.Container != "" {
		fmt.Fprintf(&b, "Container: %s\n", res.Container)
	}
	if res.InitContainer != "" {
		fmt.Fprintf(&b, "Init:      %s\n", res.InitContainer)
	}
	if res.Unit != "" {
		fmt.Fprintf(&b, "Unit:      %s\n", res.Unit)
	}
	if res.Command != "" {
		fmt.Fprintf(&b, "Command:   %s\n", truncate(res.Command, w-12))
	}
	if res.Restart != "" {
		fmt.Fprintf(&b, "Restart:   %s\n", res.Restart)
	}
	if res.File != "" {
		fmt.Fprintf(&b, "File:      %s\n", truncate(res.File, w-12))
	}
	if res.ErrorFile != "" {
		fmt.Fprintf(&b, "ErrFile:   %s\n", truncate(res.ErrorFile, w-12))
	}

	return b.String()
}

func (a App) renderLogs(w, h int) string {
	if a.followed == "" {
		return dimStyle.Render("press enter on a resource to follow its logs")
	}
	if len(a.logLines) == 0 && a.logEnded == "" {
		return dimStyle.Render("waiting for output...")
	}

	visible := h - 1
	if a.logEnded != "" {
		visible--
	}
	start := 0
	if len(a.logLines) > visible {
		start = len(a.logLines) - visible
	}

	var b strings.Builder
	for i := start; i < len(a.logLines); i++ {
		b.WriteString(a.renderLogLine(a.logLines[i], w) + "\n")
	}
	if a.logEnded != "" {
		b.WriteString(dimStyle.Render("-- " + a.logEnded + " --"))
	}
	return b.String()
}

func (a App) renderLogLine(l logLine, w int) string {
	num := lineNumStyle.Render(fmt.Sprintf("%5d ", l.entry.LineNumber))
	content := truncate(l.entry.Content, w-7)
	if l.isError {
		return num + errLineStyle.Render(content)
	}
	return num + content
}

func (a App) logTitle() string {
	title := " Logs "
	if a.followed != "" {
		title = " Logs: " + a.followed + " "
	}
	if a.logPaused {
		title += dimStyle.Render("[PAUSED]") + " "
	}
	return title
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	right := "j/k:nav tab:pane /:search enter:follow esc:unfollow r:restart s:stop t:start q:quit"
	if a.mode == ModeSearch {
		right = "enter:apply esc:cancel"
	}

	gap := a.width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return helpStyle.Render(left + strings.Repeat(" ", gap) + right)
}

func statusIndicator(status string) string {
	switch status {
	case "running":
		return statusRunning.Render("●")
	case "stopped":
		return statusStopped.Render("○")
	case "failed":
		return statusFailed.Render("✖")
	case "restarting":
		return statusRestart.Render("↻")
	default:
		return dimStyle.Render("?")
	}
}

func colorStatus(status string) string {
	switch status {
	case "running":
		return statusRunning.Render(status)
	case "stopped":
		return statusStopped.Render(status)
	case "failed":
		return statusFailed.Render(status)
	case "restarting":
		return statusRestart.Render(status)
	default:
		return dimStyle.Render(status)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
