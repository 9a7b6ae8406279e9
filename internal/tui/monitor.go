// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"locator/internal/level"
	"locator/internal/tdoa"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#767676"))
)

const (
	barWidth        = 24
	sensitivityStep = 0.1
	// DefaultRefresh is the screen refresh used when none is given.
	DefaultRefresh = 100 * time.Millisecond
)

// Engine is the part of tdoa.Engine the monitor reads and controls.
type Engine interface {
	Snapshot() *tdoa.Snapshot
	Levels() map[tdoa.SourceID]level.State
	State() tdoa.State
	Sensitivity() float64
	SetSensitivity(float64)
	ResetLevels()
}

type keyMap struct {
	quit, up, down, reset key.Binding
}

var keys = keyMap{
	quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
	up:    key.NewBinding(key.WithKeys("+", "=")),
	down:  key.NewBinding(key.WithKeys("-", "_")),
	reset: key.NewBinding(key.WithKeys("r")),
}

// refreshMsg asks the model to re-read the engine.
type refreshMsg time.Time

// MonitorModel is the Bubble Tea model showing live pair delays and
// per-source levels.
type MonitorModel struct {
	engine   Engine
	refresh  time.Duration
	viewport viewport.Model
	ready    bool

	snap   *tdoa.Snapshot
	levels map[tdoa.SourceID]level.State
}

// NewMonitorModel creates a monitor polling engine every refresh.
func NewMonitorModel(engine Engine, refresh time.Duration) MonitorModel {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return MonitorModel{engine: engine, refresh: refresh}
}

// Init starts the refresh loop.
func (m MonitorModel) Init() tea.Cmd {
	return m.tick()
}

func (m MonitorModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.viewport.SetContent(m.render())

	case refreshMsg:
		m.snap = m.engine.Snapshot()
		m.levels = m.engine.Levels()
		if m.ready {
			m.viewport.SetContent(m.render())
		}
		cmds = append(cmds, m.tick())

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.quit):
			return m, tea.Quit
		case key.Matches(msg, keys.up):
			m.engine.SetSensitivity(m.engine.Sensitivity() + sensitivityStep)
		case key.Matches(msg, keys.down):
			m.engine.SetSensitivity(m.engine.Sensitivity() - sensitivityStep)
		case key.Matches(msg, keys.reset):
			m.engine.ResetLevels()
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the UI
func (m MonitorModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	title := titleStyle.Render(fmt.Sprintf("Locator · %s · sensitivity %.1f",
		m.engine.State(), m.engine.Sensitivity()))
	help := infoStyle.Render("+/-: Sensitivity • r: Reset levels • q: Quit")
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

// render formats the delay table followed by the level bars.
func (m MonitorModel) render() string {
	var sb strings.Builder

	sb.WriteString(highlightStyle.Render("Delays"))
	sb.WriteString("\n")
	if m.snap == nil || len(m.snap.Results) == 0 {
		sb.WriteString(dimStyle.Render("  waiting for estimates"))
		sb.WriteString("\n")
	} else {
		fmt.Fprintf(&sb, "  tick %d\n", m.snap.Seq)
		for _, id := range tdoa.SortedPairIDs(m.snap.Results) {
			e := m.snap.Results[id]
			line := fmt.Sprintf("  %-20s %+6d samples %+8.3fms  confidence %.2f",
				id, e.Result.DelaySamples, e.Result.DelaySeconds*1000, e.Result.Confidence)
			if e.Result.IsZero() {
				line = dimStyle.Render(line)
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(highlightStyle.Render("Levels"))
	sb.WriteString("\n")
	ids := make([]tdoa.SourceID, 0, len(m.levels))
	for id := range m.levels {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		st := m.levels[id]
		line := fmt.Sprintf("  %-12s %s %5.1f dB SNR", id, levelBar(st.RMS, barWidth), st.SNRDB)
		if st.Detecting {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return sb.String()
}

// levelBar draws a normalized level in [0, 1].
func levelBar(v float64, width int) string {
	filled := int(math.Round(v * float64(width)))
	filled = max(0, min(width, filled))
	return "[" + strings.Repeat("█", filled) + strings.Repeat(" ", width-filled) + "]"
}

// Run shows the monitor until the user quits.
func Run(engine Engine, refresh time.Duration) error {
	p := tea.NewProgram(
		NewMonitorModel(engine, refresh),
		tea.WithAltScreen(),
	)
	_, err := p.Run()
	return err
}
