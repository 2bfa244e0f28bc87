package watch

import (
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/cibridge/internal/events"
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	apiKey string
	client *http.Client
	now    func() time.Time

	width  int
	height int

	health   HealthState
	tracker  *Tracker
	routes   table.Model
	eventLog []events.Event
	lastID   int64

	ticker  Ticker
	spinner Spinner
	theme   Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the bridge API at apiURL. apiKey needs the
// events:ro scope.
func New(apiURL, apiKey string) *Model {
	return &Model{
		apiURL:    apiURL,
		apiKey:    apiKey,
		client:    &http.Client{},
		now:       time.Now,
		tracker:   NewTracker(),
		routes:    newRouteTable(),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.apiURL, m.apiKey, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.routes, cmd = m.routes.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogLimit {
			m.eventLog = m.eventLog[:eventLogLimit]
		}
		m.spinner.OnEvent(m.now())
		m.tracker.Apply(e)
		m.routes.SetRows(routeRows(m.tracker.Sorted()))

		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.QueueDepth = msg.QueueDepth
		m.health.ServiceID = msg.ServiceID
		m.health.Plugin = msg.Plugin
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg(msg) })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.apiURL, m.apiKey, max(msg.lastID, m.lastID), m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to cibridge..."
	}

	now := m.now()
	parts := []string{
		renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width, now),
		renderRoutes(m.routes, m.tracker.Pending(), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width, 10),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit • [↑/↓] Select route"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
