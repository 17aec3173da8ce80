// Package tui implements the sift dashboard: a terminal view of finding
// volume, top rules, message patterns, recent findings, and run history,
// refreshed from a FindingQuerier on a timer.
package tui

import (
	"time"

	"github.com/checksift/sift/internal/model"
	"github.com/checksift/sift/internal/patterns"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	defaultRefreshInterval = 2 * time.Second
	minRefreshInterval     = 500 * time.Millisecond
	maxRefreshInterval     = 30 * time.Second

	recentFetchLimit = 200
	topRuleLimit     = 10
	runHistoryLimit  = 20
	minuteWindow     = 30 * time.Minute
)

// panel indices, cycled with tab.
const (
	panelCounts = iota
	panelRules
	panelPatterns
	panelFindings
	panelRuns
	panelCount
)

// snapshot is one refresh worth of dashboard data.
type snapshot struct {
	total      int64
	runTotal   int64
	severities map[string]int64
	minutes    []model.MinuteCounts
	topRules   []model.RuleCount
	recent     []model.Finding
	runs       []model.Run
	projects   []string
	err        error
}

type tickMsg time.Time

type dataMsg snapshot

// Dashboard is the top-level Bubble Tea model.
type Dashboard struct {
	store model.FindingQuerier
	keys  KeyMap
	miner *patterns.Miner

	findingsView viewport.Model

	width  int
	height int

	refreshEvery time.Duration
	paused       bool
	showHelp     bool
	activePanel  int

	project    string
	projects   []string
	projectIdx int // 0 means all projects

	data        snapshot
	seenEvents  map[string]struct{}
	lastRefresh time.Time
	ready       bool
}

// NewDashboard creates a dashboard backed by the given querier.
func NewDashboard(store model.FindingQuerier) *Dashboard {
	return &Dashboard{
		store:        store,
		keys:         DefaultKeyMap(),
		miner:        patterns.NewMiner(),
		refreshEvery: defaultRefreshInterval,
		seenEvents:   make(map[string]struct{}),
	}
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.fetchCmd(), d.tickCmd())
}

func (d *Dashboard) tickCmd() tea.Cmd {
	return tea.Tick(d.refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchCmd queries the store off the update loop and delivers a dataMsg.
func (d *Dashboard) fetchCmd() tea.Cmd {
	store := d.store
	opts := model.QueryOpts{Project: d.project}
	return func() tea.Msg {
		var snap snapshot
		var err error

		if snap.total, err = store.TotalFindingCount(opts); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.runTotal, err = store.TotalRunCount(opts); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.severities, err = store.SeverityCounts(opts); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.minutes, err = store.SeverityCountsByMinute(minuteWindow, opts); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.topRules, err = store.TopRules(topRuleLimit, opts); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.recent, err = store.RecentFindingsFiltered(recentFetchLimit, opts.Project, nil, ""); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.runs, err = store.RunHistory(runHistoryLimit, opts); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		if snap.projects, err = store.ListProjects(); err != nil {
			snap.err = err
			return dataMsg(snap)
		}
		return dataMsg(snap)
	}
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.layoutViewport()
		d.ready = true
		return d, nil

	case tickMsg:
		if d.paused {
			return d, d.tickCmd()
		}
		return d, tea.Batch(d.fetchCmd(), d.tickCmd())

	case dataMsg:
		d.applyData(snapshot(msg))
		return d, nil

	case tea.KeyMsg:
		return d.handleKey(msg)
	}

	return d, nil
}

func (d *Dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, d.keys.Quit), key.Matches(msg, d.keys.ForceQuit):
		return d, tea.Quit

	case key.Matches(msg, d.keys.Help):
		d.showHelp = !d.showHelp

	case key.Matches(msg, d.keys.Pause):
		d.paused = !d.paused

	case key.Matches(msg, d.keys.NextPanel):
		d.activePanel = (d.activePanel + 1) % panelCount

	case key.Matches(msg, d.keys.PrevPanel):
		d.activePanel = (d.activePanel + panelCount - 1) % panelCount

	case key.Matches(msg, d.keys.NextProject):
		d.cycleProject()
		return d, d.fetchCmd()

	case key.Matches(msg, d.keys.ResetPatterns):
		d.miner.Reset()
		d.seenEvents = make(map[string]struct{})

	case key.Matches(msg, d.keys.IntervalUp):
		d.refreshEvery = clampInterval(d.refreshEvery / 2)

	case key.Matches(msg, d.keys.IntervalDown):
		d.refreshEvery = clampInterval(d.refreshEvery * 2)

	case key.Matches(msg, d.keys.Up), key.Matches(msg, d.keys.Down):
		if d.activePanel == panelFindings {
			var cmd tea.Cmd
			d.findingsView, cmd = d.findingsView.Update(msg)
			return d, cmd
		}
	}

	return d, nil
}

func (d *Dashboard) applyData(snap snapshot) {
	if snap.err != nil {
		d.data.err = snap.err
		return
	}
	d.data = snap
	d.lastRefresh = time.Now()

	// Feed only findings we have not seen before into the pattern miner.
	for i := range snap.recent {
		f := &snap.recent[i]
		if f.EventID == "" {
			continue
		}
		if _, seen := d.seenEvents[f.EventID]; seen {
			continue
		}
		d.seenEvents[f.EventID] = struct{}{}
		d.miner.AddMessage(f.Message)
	}

	d.findingsView.SetContent(d.renderFindingLines())
}

func (d *Dashboard) cycleProject() {
	if len(d.data.projects) == 0 {
		d.project = ""
		d.projectIdx = 0
		return
	}
	d.projectIdx = (d.projectIdx + 1) % (len(d.data.projects) + 1)
	if d.projectIdx == 0 {
		d.project = ""
	} else {
		d.project = d.data.projects[d.projectIdx-1]
	}
}

func (d *Dashboard) layoutViewport() {
	w := d.width - 4
	if w < 20 {
		w = 20
	}
	h := d.findingsPanelHeight() - 3
	if h < 3 {
		h = 3
	}
	d.findingsView.Width = w
	d.findingsView.Height = h
}

func clampInterval(interval time.Duration) time.Duration {
	if interval < minRefreshInterval {
		return minRefreshInterval
	}
	if interval > maxRefreshInterval {
		return maxRefreshInterval
	}
	return interval
}

// Run starts the dashboard in the alternate screen until the user quits.
// A refreshEvery of zero keeps the default interval.
func Run(store model.FindingQuerier, refreshEvery time.Duration) error {
	d := NewDashboard(store)
	if refreshEvery > 0 {
		d.refreshEvery = clampInterval(refreshEvery)
	}
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
