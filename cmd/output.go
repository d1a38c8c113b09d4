package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NamanBalaji/gdl/internal/common"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))  // green
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))  // red
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")) // yellow
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // blue
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // cyan
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}

func PrintError(text string) {
	fmt.Println(errorStyle.Render(text))
}

func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}

func PrintPending(text string) {
	fmt.Println(pendingStyle.Render(text))
}

func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}

func stateStyle(st common.State) lipgloss.Style {
	switch st {
	case common.StateSuccess:
		return successStyle
	case common.StateFailure:
		return errorStyle
	case common.StatePaused, common.StateStopped:
		return warningStyle
	case common.StateRunning:
		return infoStyle
	default:
		return pendingStyle
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Headers(headers...).
		Border(lipgloss.RoundedBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Align(lipgloss.Center).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func formatBytes(n int64) string {
	if n < 0 {
		return "?"
	}

	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatPercent(p float64) string {
	if p < 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", p)
}
