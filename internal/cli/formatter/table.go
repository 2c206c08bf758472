package formatter

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column describes one table column. Numeric columns are right-aligned.
type Column struct {
	Title   string
	Numeric bool
}

const colGap = 2

// RenderTable lays out rows under a styled header and separator. Widths are
// measured on visible text so styled cells line up.
func RenderTable(cols []Column, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = lipgloss.Width(c.Title)
	}
	for _, row := range rows {
		for i := range cols {
			if i < len(row) {
				widths[i] = max(widths[i], lipgloss.Width(row[i]))
			}
		}
	}

	var b strings.Builder
	header := make([]string, len(cols))
	rule := make([]string, len(cols))
	for i, c := range cols {
		header[i] = pad(StyleHeader.Render(c.Title), widths[i], c.Numeric)
		rule[i] = StyleDim.Render(strings.Repeat("─", widths[i]))
	}
	writeRow(&b, header)
	writeRow(&b, rule)

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = pad(cell, widths[i], c.Numeric)
		}
		writeRow(&b, cells)
	}
	return b.String()
}

func pad(cell string, width int, right bool) string {
	fill := strings.Repeat(" ", max(0, width-lipgloss.Width(cell)))
	if right {
		return fill + cell
	}
	return cell + fill
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString(strings.TrimRight(strings.Join(cells, strings.Repeat(" ", colGap)), " "))
	b.WriteString("\n")
}
