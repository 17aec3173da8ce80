package tui

import (
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"
)

const timeRound = 10 * time.Millisecond

// renderSeverityChart draws per-minute finding counts as a stacked bar chart.
// Each bar is one minute, split by severity.
func (d *Dashboard) renderSeverityChart(width, height int) string {
	if len(d.data.minutes) == 0 {
		return ""
	}
	if width < 20 {
		width = 20
	}
	if height < 4 {
		height = 4
	}

	severityColors := map[string]lipgloss.Style{
		"INFO":  lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Background(lipgloss.Color("39")),
		"WARN":  lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Background(lipgloss.Color("208")),
		"ERROR": lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Background(lipgloss.Color("196")),
		"EMPTY": lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Background(lipgloss.Color("240")),
	}

	bc := barchart.New(width, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)

	maxBars := width / 2
	minutes := d.data.minutes
	if len(minutes) > maxBars {
		minutes = minutes[len(minutes)-maxBars:]
	}

	for _, mc := range minutes {
		var values []barchart.BarValue
		stacked := []struct {
			name  string
			count int64
		}{
			{"INFO", mc.Info},
			{"WARN", mc.Warn},
			{"ERROR", mc.Error},
		}
		for _, sev := range stacked {
			if sev.count > 0 {
				values = append(values, barchart.BarValue{
					Name:  sev.name,
					Value: float64(sev.count),
					Style: severityColors[sev.name],
				})
			}
		}
		if len(values) == 0 {
			values = append(values, barchart.BarValue{
				Name:  "EMPTY",
				Value: 0,
				Style: severityColors["EMPTY"],
			})
		}
		bc.Push(barchart.BarData{Label: "", Values: values})
	}

	bc.Draw()
	return bc.View()
}
