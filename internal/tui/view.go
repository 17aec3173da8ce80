package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (d *Dashboard) View() string {
	if !d.ready {
		return "Loading dashboard..."
	}

	var sections []string
	sections = append(sections, d.renderHeader())
	sections = append(sections, d.renderCountsPanel())
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top,
		d.renderRulesPanel(),
		d.renderPatternsPanel(),
	))
	sections = append(sections, d.renderFindingsPanel())
	sections = append(sections, d.renderRunsPanel())
	sections = append(sections, d.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (d *Dashboard) renderHeader() string {
	project := d.project
	if project == "" {
		project = "all projects"
	}

	left := titleStyle.Render("sift") + "  " +
		helpStyle.Render(fmt.Sprintf("%s | %d findings | %d runs",
			project, d.data.total, d.data.runTotal))

	var right string
	if d.paused {
		right = pausedStyle.Render("PAUSED")
	} else if !d.lastRefresh.IsZero() {
		right = helpStyle.Render("updated " + d.lastRefresh.Format("15:04:05"))
	}

	gap := d.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	return " " + left + strings.Repeat(" ", gap) + right
}

func (d *Dashboard) renderCountsPanel() string {
	style := d.panelStyle(panelCounts)

	title := panelTitleStyle.Render("Findings Over Time")
	content := d.renderSeverityChart(d.panelWidth()-4, 6)
	if content == "" {
		content = helpStyle.Render("No findings yet")
	}

	return style.Width(d.panelWidth()).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, content))
}

func (d *Dashboard) renderRulesPanel() string {
	style := d.panelStyle(panelRules)
	width := d.panelWidth()/2 - 1

	title := panelTitleStyle.Render("Top Rules")

	var lines []string
	maxCount := int64(0)
	for _, rc := range d.data.topRules {
		if rc.Count > maxCount {
			maxCount = rc.Count
		}
	}
	for i, rc := range d.data.topRules {
		if i >= topRuleLimit {
			break
		}
		bar := countBar(rc.Count, maxCount, 10)
		lines = append(lines, fmt.Sprintf("%s %6d  %s %s",
			bar, rc.Count,
			lipgloss.NewStyle().Foreground(ColorWhite).Render(rc.Rule),
			helpStyle.Render("("+rc.Check+")")))
	}
	if len(lines) == 0 {
		lines = append(lines, helpStyle.Render("No rules yet"))
	}

	return style.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func (d *Dashboard) renderPatternsPanel() string {
	style := d.panelStyle(panelPatterns)
	width := d.panelWidth()/2 - 1

	patternCount, totalMsgs := d.miner.Stats()
	titleText := "Message Patterns"
	if patternCount > 0 {
		titleText = fmt.Sprintf("Message Patterns (%d from %d)", patternCount, totalMsgs)
	}
	title := panelTitleStyle.Render(titleText)

	templateWidth := width - 22
	if templateWidth < 16 {
		templateWidth = 16
	}

	var lines []string
	for _, p := range d.miner.TopPatterns(topRuleLimit) {
		template := p.Template
		if len(template) > templateWidth {
			template = template[:templateWidth-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("%5.1f%% %5d  %s",
			p.Percentage, p.Count,
			lipgloss.NewStyle().Foreground(ColorWhite).Render(template)))
	}
	if len(lines) == 0 {
		lines = append(lines, helpStyle.Render("Extracting patterns"))
	}

	return style.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func (d *Dashboard) renderFindingsPanel() string {
	style := d.panelStyle(panelFindings)

	title := panelTitleStyle.Render(fmt.Sprintf("Recent Findings (%d)", len(d.data.recent)))
	return style.Width(d.panelWidth()).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, d.findingsView.View()))
}

// renderFindingLines formats the recent findings for the scrollable viewport,
// newest last.
func (d *Dashboard) renderFindingLines() string {
	if len(d.data.recent) == 0 {
		return helpStyle.Render("No findings yet")
	}

	var lines []string
	for i := range d.data.recent {
		f := &d.data.recent[i]
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		lines = append(lines, fmt.Sprintf("%s %s %s %s %s",
			helpStyle.Render(f.Timestamp.Format("15:04:05")),
			severityStyle(f.Severity).Render(fmt.Sprintf("%-5s", f.Severity)),
			lipgloss.NewStyle().Foreground(ColorWhite).Render(fmt.Sprintf("%-8s", f.Rule)),
			helpStyle.Render(loc),
			f.Message))
	}
	return strings.Join(lines, "\n")
}

func (d *Dashboard) renderRunsPanel() string {
	style := d.panelStyle(panelRuns)

	title := panelTitleStyle.Render("Run History")

	var lines []string
	for i, run := range d.data.runs {
		if i >= 5 {
			break
		}
		outcome := run.Outcome
		var outcomeStyle lipgloss.Style
		switch run.Outcome {
		case "clean":
			outcomeStyle = severityStyle("INFO")
		case "findings":
			outcomeStyle = severityStyle("WARN")
		default:
			outcomeStyle = severityStyle("ERROR")
		}
		lines = append(lines, fmt.Sprintf("%s %s %-9s %2d checks %5d findings  %s",
			helpStyle.Render(run.StartedAt.Format("15:04:05")),
			helpStyle.Render(run.ID),
			outcomeStyle.Render(outcome),
			run.Checks, run.Findings,
			helpStyle.Render(run.Duration.Round(timeRound).String())))
	}
	if len(lines) == 0 {
		lines = append(lines, helpStyle.Render("No runs yet"))
	}

	return style.Width(d.panelWidth()).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n")))
}

func (d *Dashboard) renderFooter() string {
	if d.data.err != nil {
		return " " + errStyle.Render("error: "+d.data.err.Error())
	}
	if d.showHelp {
		return " " + helpStyle.Render(
			"q quit · space pause · tab panel · p project · r reset patterns · u/U refresh rate · j/k scroll")
	}
	return " " + helpStyle.Render(fmt.Sprintf("? help · refresh %s", d.refreshEvery))
}

func (d *Dashboard) panelStyle(panel int) lipgloss.Style {
	if panel == d.activePanel {
		return activeSectionStyle
	}
	return sectionStyle
}

func (d *Dashboard) panelWidth() int {
	w := d.width - 2
	if w < 40 {
		w = 40
	}
	return w
}

func (d *Dashboard) findingsPanelHeight() int {
	// Header, counts chart, rules/patterns row, runs, and footer take the
	// rest of the screen; findings get what is left.
	h := d.height - 26
	if h < 6 {
		h = 6
	}
	return h
}

// countBar renders a fixed-width proportional bar for list panels.
func countBar(count, max int64, width int64) string {
	if max <= 0 {
		return strings.Repeat("░", int(width))
	}
	fill := count * width / max
	if fill == 0 && count > 0 {
		fill = 1
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("12")).
		Render(strings.Repeat("█", int(fill))) +
		helpStyle.Render(strings.Repeat("░", int(width-fill)))
}
