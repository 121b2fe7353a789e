// Package model holds the Bubble Tea models for the logtap TUI.
package model

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/modoterra/logtap/pkg/core"
	"github.com/modoterra/logtap/pkg/transport/uds"
)

// Pane identifies which TUI pane is focused.
type Pane int

const (
	PaneList Pane = iota
	PaneDetail
	PaneLogs
)

// Mode identifies the current interaction mode.
type Mode int

const (
	ModeNormal Mode = iota
	ModeSearch
)

// maxLogLines bounds the in-memory log window per session.
const maxLogLines = 1000

// logLine is one rendered log entry with its stream tag.
type logLine struct {
	entry   core.LogEntry
	isError bool
}

// App is the root Bubble Tea model.
type App struct {
	// Connection
	client     *uds.Client
	socketPath string
	connected  bool
	events     chan tea.Msg

	// State
	resources   []core.Resource
	selectedIdx int
	followed    string // resource ID currently streaming logs
	logLines    []logLine
	logPaused   bool
	logEnded    string // how the stream ended, if it has

	// UI
	activePane Pane
	mode       Mode
	search     textinput.Model
	width      int
	height     int

	// Error display
	statusMsg string
}

// New creates a new TUI app model.
func New(socketPath string) App {
	si := textinput.New()
	si.Placeholder = "search..."
	si.CharLimit = 64

	return App{
		socketPath: socketPath,
		events:     make(chan tea.Msg, 64),
		search:     si,
		activePane: PaneList,
		mode:       ModeNormal,
	}
}

// Init connects to the daemon.
func (a App) Init() tea.Cmd {
	return tea.Batch(
		connectCmd(a.socketPath),
		tea.SetWindowTitle("logtap"),
	)
}

// tickMsg triggers periodic refresh.
type tickMsg time.Time

// connectedMsg indicates successful daemon connection.
type connectedMsg struct{ client *uds.Client }

// resourcesMsg carries the current resource set from the daemon.
type resourcesMsg struct{ resources []core.Resource }

// logsBatchMsg carries a batch of log entries for the followed resource.
type logsBatchMsg uds.LogsBatchEvent

// logsEndMsg signals that the followed stream ended.
type logsEndMsg uds.LogsEndEvent

// errorMsg carries an error to display.
type errorMsg struct{ err error }

// actionResultMsg carries the result of an action.
type actionResultMsg struct{ msg string }

func connectCmd(socketPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := uds.Dial(socketPath)
		if err != nil {
			return errorMsg{err}
		}
		return connectedMsg{client}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForEvent re-arms the pump that turns server pushes into tea messages.
func (a App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-a.events
	}
}

func (a App) dispatchEvent(msg uds.Message) {
	switch msg.Method {
	case uds.EventLogsBatch:
		var evt uds.LogsBatchEvent
		if err := msg.UnmarshalData(&evt); err == nil {
			a.events <- logsBatchMsg(evt)
		}
	case uds.EventLogsEnd:
		var evt uds.LogsEndEvent
		if err := msg.UnmarshalData(&evt); err == nil {
			a.events <- logsEndMsg(evt)
		}
	case uds.EventResourcesDelta:
		// A delta just means the list is stale; refetch on next tick.
	}
}

func fetchResourcesCmd(client *uds.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		resp, err := client.Request(ctx, uds.MethodListResources, nil)
		if err != nil {
			return errorMsg{err}
		}

		var resources []core.Resource
		if err := resp.UnmarshalData(&resources); err != nil {
			return errorMsg{err}
		}

		sort.Slice(resources, func(i, j int) bool {
			return resources[i].Name < resources[j].Name
		})

		return resourcesMsg{resources}
	}
}

func actionCmd(client *uds.Client, resourceID, action string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := client.Request(ctx, uds.MethodAction, uds.ActionRequest{
			ResourceID: resourceID,
			Action:     action,
		})
		if err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: action + " → " + resourceID}
	}
}

func subscribeCmd(client *uds.Client, resourceID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := client.Request(ctx, uds.MethodLogsSubscribe, uds.LogsSubscribeRequest{
			ResourceID: resourceID,
		})
		if err != nil {
			return errorMsg{err}
		}
		return actionResultMsg{msg: "following " + resourceID}
	}
}

func unsubscribeCmd(client *uds.Client, resourceID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client.Request(ctx, uds.MethodLogsUnsubscribe, uds.LogsUnsubscribeRequest{
			ResourceID: resourceID,
		})
		return nil
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case connectedMsg:
		a.client = msg.client
		a.connected = true
		a.statusMsg = "connected"
		a.client.OnEvent(a.dispatchEvent)
		return a, tea.Batch(tickCmd(), fetchResourcesCmd(a.client), a.waitForEvent())

	case tickMsg:
		if a.client != nil {
			return a, tea.Batch(tickCmd(), fetchResourcesCmd(a.client))
		}
		return a, tickCmd()

	case resourcesMsg:
		a.resources = msg.resources
		if a.selectedIdx >= len(a.resources) {
			a.selectedIdx = max(0, len(a.resources)-1)
		}
		return a, nil

	case logsBatchMsg:
		if msg.ResourceID == a.followed && !a.logPaused {
			for _, e := range msg.Entries {
				a.logLines = append(a.logLines, logLine{entry: e, isError: e.IsError})
			}
			if len(a.logLines) > maxLogLines {
				a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
			}
		}
		return a, a.waitForEvent()

	case logsEndMsg:
		if msg.ResourceID == a.followed {
			if msg.Error != "" {
				a.logEnded = "stream failed: " + msg.Error
			} else {
				a.logEnded = "stream ended"
			}
		}
		return a, a.waitForEvent()

	case actionResultMsg:
		a.statusMsg = msg.msg
		return a, nil

	case errorMsg:
		a.statusMsg = "error: " + msg.err.Error()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Search mode
	if a.mode == ModeSearch {
		switch msg.String() {
		case "esc":
			a.mode = ModeNormal
			a.search.SetValue("")
			a.search.Blur()
			return a, nil
		case "enter":
			a.mode = ModeNormal
			a.search.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.search, cmd = a.search.Update(msg)
			return a, cmd
		}
	}

	// Normal mode
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "j", "down":
		if a.activePane == PaneList && len(a.resources) > 0 {
			a.selectedIdx = min(a.selectedIdx+1, len(a.filteredResources())-1)
		}
	case "k", "up":
		if a.activePane == PaneList && a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "tab":
		a.activePane = (a.activePane + 1) % 3

	case "/":
		a.mode = ModeSearch
		a.search.Focus()
		return a, textinput.Blink

	case "r":
		return a.doAction("restart")
	case "s":
		return a.doAction("stop")
	case "t":
		return a.doAction("start")

	case "enter", "l":
		return a.followSelected()

	case "esc":
		return a.unfollow()

	case " ":
		if a.activePane == PaneLogs {
			a.logPaused = !a.logPaused
		}

	case "c":
		a.logLines = nil
		a.logEnded = ""
	}

	return a, nil
}

// followSelected switches the log pane to the selected resource's stream.
func (a App) followSelected() (tea.Model, tea.Cmd) {
	res := a.selectedResource()
	if a.client == nil || res == nil {
		return a, nil
	}
	if res.ID == a.followed {
		a.activePane = PaneLogs
		return a, nil
	}

	var cmds []tea.Cmd
	if a.followed != "" {
		cmds = append(cmds, unsubscribeCmd(a.client, a.followed))
	}
	a.followed = res.ID
	a.logLines = nil
	a.logEnded = ""
	a.logPaused = false
	a.activePane = PaneLogs
	cmds = append(cmds, subscribeCmd(a.client, res.ID))
	return a, tea.Batch(cmds...)
}

func (a App) unfollow() (tea.Model, tea.Cmd) {
	if a.client == nil || a.followed == "" {
		return a, nil
	}
	id := a.followed
	a.followed = ""
	a.logEnded = ""
	a.activePane = PaneList
	return a, unsubscribeCmd(a.client, id)
}

func (a App) doAction(action string) (tea.Model, tea.Cmd) {
	res := a.selectedResource()
	if a.client == nil || res == nil {
		return a, nil
	}
	return a, actionCmd(a.client, res.ID, action)
}

func (a App) filteredResources() []core.Resource {
	q := strings.ToLower(a.search.Value())
	if q == "" {
		return a.resources
	}
	var filtered []core.Resource
	for _, res := range a.resources {
		if strings.Contains(strings.ToLower(res.Name), q) ||
			strings.Contains(strings.ToLower(string(res.Kind)), q) {
			filtered = append(filtered, res)
		}
	}
	return filtered
}

func (a App) selectedResource() *core.Resource {
	resources := a.filteredResources()
	if a.selectedIdx < len(resources) {
		return &resources[a.selectedIdx]
	}
	return nil
}
