package ui

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

// RoomMember is one row of the room table.
type RoomMember struct {
	Name     string
	JoinedAt time.Time
}

// RoomView renders the occupancy of a room as reported by the server.
func RoomView(roomID string, members []RoomMember, now time.Time) string {
	title := fmt.Sprintf("%s Room %s  %s", IconRoom, BoldStyle.Foreground(Primary).Render(roomID),
		MutedStyle.Render(plural(len(members), "participant")))
	if len(members) == 0 {
		return title + "\n" + MutedStyle.Render("Nobody is here yet")
	}

	rows := make([][]string, 0, len(members))
	for i, m := range members {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			truncate(m.Name, 32),
			m.JoinedAt.Format("15:04:05"),
			formatSince(now.Sub(m.JoinedAt)),
		})
	}
	return title + "\n" + newTable([]string{"#", "Name", "Joined", "In call"}, rows).Render()
}

// HealthView renders the server health summary.
func HealthView(server, status string, rooms, users int) string {
	rows := [][]string{
		{"Server", server},
		{"Status", status},
		{"Rooms", strconv.Itoa(rooms)},
		{"Participants", strconv.Itoa(users)},
	}
	return newTable([]string{"Metric", "Value"}, rows).Render()
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatSince(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
