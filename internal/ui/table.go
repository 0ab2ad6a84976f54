package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomInfo is the box shown after a room is created.
type RoomInfo struct {
	Code      string
	Directory string
	Manual    bool
}

func (r RoomInfo) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Room Created!\n\n", IconSuccess)
	fmt.Fprintf(&b, "%s Room code:  %s\n", IconRoom, BoldStyle.Foreground(Primary).Render(r.Code))
	if r.Directory != "" {
		fmt.Fprintf(&b, "%s Directory:  %s\n", IconRelay, MutedStyle.Render(r.Directory))
	}
	if r.Manual {
		fmt.Fprintf(&b, "\n%s", MutedStyle.Render("No shared directory: send the offer token to each joiner."))
	} else {
		fmt.Fprintf(&b, "\n%s", MutedStyle.Render("Others join with: warpchat join "+r.Code))
	}
	return SuccessBoxStyle.Render(b.String())
}

// RosterView renders the participants of a room.
func RosterView(self string, names []string) string {
	rows := make([][]string, 0, len(names))
	for i, name := range names {
		who := name
		if name == self {
			who += " (you)"
		}
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), Avatar(name) + " " + who})
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Participant").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
	return tbl.Render()
}

// StoreRow is one record in a room directory listing.
type StoreRow struct {
	Key  string
	Type string
	Room string
	From string
	Age  time.Duration
}

// RenderStoreTable writes a directory listing to w.
func RenderStoreTable(w io.Writer, rows []StoreRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(table.Row{"Key", "Type", "Room", "From", "Age"})
	for _, r := range rows {
		age := "-"
		if r.Age > 0 {
			age = r.Age.Truncate(time.Second).String()
		}
		t.AppendRow(table.Row{r.Key, r.Type, r.Room, r.From, age})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(rows)})
	t.Render()
}
