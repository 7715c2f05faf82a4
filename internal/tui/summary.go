package tui

import (
	"fmt"
	"strings"
	"time"

	"pngoo-go/internal/statistics"

	"github.com/charmbracelet/lipgloss"
)

type SummaryRow struct {
	Label string
	Value string
}

// SummaryRows builds the end-of-batch table from collected statistics.
func SummaryRows(s *statistics.Statistics) []SummaryRow {
	snap := s.Snapshot()
	status := "completed"
	if snap.Cancelled {
		status = "cancelled"
	}
	return []SummaryRow{
		{Label: "Status", Value: status},
		{Label: "Files processed", Value: fmt.Sprintf("%d/%d", snap.Processed, snap.Total)},
		{Label: "Compressed", Value: fmt.Sprintf("%d", snap.Compressed)},
		{Label: "Kept original", Value: fmt.Sprintf("%d", snap.Kept)},
		{Label: "Failed", Value: fmt.Sprintf("%d", snap.Failed)},
		{Label: "Space saved", Value: fmt.Sprintf("%s (%.1f%%)", statistics.FormatBytes(s.BytesSaved()), snap.SavedPercent)},
		{Label: "Duration", Value: s.Duration.Round(time.Millisecond).String()},
	}
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		labelWidth = max(labelWidth, len(row.Label))
		valueWidth = max(valueWidth, len(row.Value))
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		lines = append(lines, fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value)))
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

var valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
