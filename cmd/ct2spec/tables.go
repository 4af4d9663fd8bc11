package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)
)

// newPlainTable returns a table with alternating row colors. Without a header the first
// column is right aligned, as a key column.
func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 && !withHeader {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
}
