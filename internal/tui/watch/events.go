package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/cibridge/internal/events"
)

const eventLogLimit = 50

func renderEventStream(eventLog []events.Event, theme Theme, width, rows int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	lines := make([]string, 0, rows)
	for i, e := range eventLog {
		if i >= rows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.TypeTaskCompleted, events.TypeTaskRouted:
		typeStyle = theme.statusStyle(decodeTaskEvent(e).Status)
	case events.TypeTaskEnqueued:
		typeStyle = theme.StatusQueued
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-15s", e.Type)), describeEvent(e))
}

func decodeTaskEvent(e events.Event) events.TaskEvent {
	var te events.TaskEvent
	_ = json.Unmarshal(e.Data, &te)
	return te
}

// describeEvent summarizes a task event in one line.
func describeEvent(e events.Event) string {
	te := decodeTaskEvent(e)

	var parts []string
	if te.TaskID != "" {
		parts = append(parts, fmt.Sprintf("[%s]", shorten(te.TaskID, 12)))
	}
	if te.Route != "" {
		parts = append(parts, te.Route)
	}
	if te.Status != 0 {
		parts = append(parts, fmt.Sprintf("%d", te.Status))
	}
	if te.Source != "" {
		parts = append(parts, "via "+te.Source)
	}

	if len(parts) == 0 {
		return shorten(string(e.Data), 60)
	}
	return strings.Join(parts, " ")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
