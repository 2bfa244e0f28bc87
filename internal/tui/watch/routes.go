package watch

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/cibridge/internal/events"
)

// RouteState aggregates routed task outcomes for one route.
type RouteState struct {
	Name       string
	Total      int
	OK         int // 2xx
	ClientErr  int // 4xx
	ServerErr  int // 5xx
	LastStatus int
	LastSeen   time.Time
}

// Tracker folds task events into route and pending counts.
type Tracker struct {
	Routes  map[string]*RouteState
	pending map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		Routes:  make(map[string]*RouteState),
		pending: make(map[string]struct{}),
	}
}

// Pending is the number of enqueued tasks not yet completed.
func (t *Tracker) Pending() int { return len(t.pending) }

// Apply updates the tracker with one event.
func (t *Tracker) Apply(e events.Event) {
	te := decodeTaskEvent(e)
	switch e.Type {
	case events.TypeTaskEnqueued:
		if te.QueueID != "" {
			t.pending[te.QueueID] = struct{}{}
		}
	case events.TypeTaskCompleted, events.TypeTaskRouted:
		if te.QueueID != "" {
			delete(t.pending, te.QueueID)
		}
		if te.Route == "" {
			return
		}
		rs, ok := t.Routes[te.Route]
		if !ok {
			rs = &RouteState{Name: te.Route}
			t.Routes[te.Route] = rs
		}
		rs.Total++
		switch {
		case te.Status >= 500:
			rs.ServerErr++
		case te.Status >= 400:
			rs.ClientErr++
		case te.Status >= 200 && te.Status < 300:
			rs.OK++
		}
		rs.LastStatus = te.Status
		rs.LastSeen = e.At
	}
}

// Sorted returns routes ordered by most recent activity.
func (t *Tracker) Sorted() []*RouteState {
	out := make([]*RouteState, 0, len(t.Routes))
	for _, rs := range t.Routes {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func newRouteTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Route", Width: 28},
			{Title: "Total", Width: 6},
			{Title: "2xx", Width: 6},
			{Title: "4xx", Width: 6},
			{Title: "5xx", Width: 6},
			{Title: "Last", Width: 5},
			{Title: "Seen", Width: 9},
		}),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func routeRows(routes []*RouteState) []table.Row {
	rows := make([]table.Row, 0, len(routes))
	for _, rs := range routes {
		rows = append(rows, table.Row{
			rs.Name,
			strconv.Itoa(rs.Total),
			strconv.Itoa(rs.OK),
			strconv.Itoa(rs.ClientErr),
			strconv.Itoa(rs.ServerErr),
			strconv.Itoa(rs.LastStatus),
			rs.LastSeen.Format("15:04:05"),
		})
	}
	return rows
}

func renderRoutes(t table.Model, pending int, theme Theme, width int) string {
	title := theme.Title.Render(fmt.Sprintf("ROUTES  (pending: %d)", pending))
	var body string
	if len(t.Rows()) == 0 {
		body = theme.Dim.Render("  No tasks routed yet")
	} else {
		body = t.View()
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
