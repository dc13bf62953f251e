package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"

	"github.com/example/basalt/internal/exec"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func renderTitle(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func renderResult(w io.Writer, res *exec.Result) {
	if len(res.Columns) == 0 {
		fmt.Fprintln(w, res.Message)
		return
	}
	rows := res.Strings()
	widths := make([]int, len(res.Columns))
	for i, col := range res.Columns {
		widths[i] = runewidth.StringWidth(col)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := runewidth.StringWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	fmt.Fprintln(w, headerStyle.Render(formatRow(res.Columns, widths)))
	separator := make([]string, len(widths))
	for i, n := range widths {
		separator[i] = strings.Repeat("-", n)
	}
	fmt.Fprintln(w, formatRow(separator, widths))
	for _, row := range rows {
		fmt.Fprintln(w, formatRow(row, widths))
	}
	fmt.Fprintln(w, mutedStyle.Render(rowCount(len(rows))))
}

func formatRow(values []string, widths []int) string {
	cells := make([]string, len(values))
	for i, v := range values {
		cells[i] = runewidth.FillRight(v, widths[i])
	}
	return strings.Join(cells, " | ")
}

func rowCount(n int) string {
	if n == 1 {
		return "(1 row)"
	}
	return fmt.Sprintf("(%s rows)", humanize.Comma(int64(n)))
}
