// Package tui provides the Bubble Tea tempo dashboard.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/avolkin/midibeat/internal/model"
	"github.com/avolkin/midibeat/internal/tempo"
)

const (
	refreshInterval = 100 * time.Millisecond
	maxTableRows    = 5
	noticeTTL       = 3 * time.Second
)

var (
	bpmStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	idleStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	footerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	noticeStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	plotTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C0C0C0"))
	plotBorderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4A4A4A"))
)

type tickMsg time.Time

// Model implements the Bubble Tea tempo dashboard.
type Model struct {
	engine *tempo.Engine
	device string

	width  int
	height int

	snap     *model.Snapshot
	hypTable table.Model

	notice   string
	noticeAt time.Time
}

// NewModel constructs a dashboard over a running engine.
func NewModel(engine *tempo.Engine, device string) *Model {
	m := &Model{
		engine: engine,
		device: device,
		snap:   engine.Snapshot(),
	}
	m.hypTable = newHypothesisTable()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		m.snap = m.engine.Snapshot()
		m.refreshTable()
		return m, tickCmd()
	case tea.KeyMsg:
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.engine.Reset()
		m.setNotice("window cleared")
	case "g":
		cfg := m.engine.Config()
		if cfg.Tolerance.Shape == model.FalloffGaussian {
			cfg.Tolerance.Shape = model.FalloffTriangular
		} else {
			cfg.Tolerance.Shape = model.FalloffGaussian
		}
		m.applyConfig(cfg, fmt.Sprintf("falloff: %s", cfg.Tolerance.Shape))
	case "+", "=":
		cfg := m.engine.Config()
		cfg.MaxHarmonic++
		m.applyConfig(cfg, fmt.Sprintf("max harmonic: %d", cfg.MaxHarmonic))
	case "-":
		cfg := m.engine.Config()
		cfg.MaxHarmonic--
		m.applyConfig(cfg, fmt.Sprintf("max harmonic: %d", cfg.MaxHarmonic))
	case "]":
		cfg := m.engine.Config()
		cfg.SmoothingBins++
		m.applyConfig(cfg, fmt.Sprintf("smoothing: %d bins", cfg.SmoothingBins))
	case "[":
		cfg := m.engine.Config()
		cfg.SmoothingBins--
		m.applyConfig(cfg, fmt.Sprintf("smoothing: %d bins", cfg.SmoothingBins))
	case "T":
		m.adjustTolerance(1)
	case "t":
		m.adjustTolerance(-1)
	}
	return m, nil
}

// adjustTolerance widens or narrows whichever tolerance margin is in
// effect: 5ms steps for absolute, one percentage point for relative.
func (m *Model) adjustTolerance(dir int) {
	cfg := m.engine.Config()
	if cfg.Tolerance.Absolute > 0 {
		cfg.Tolerance.Absolute += time.Duration(dir) * 5 * time.Millisecond
		m.applyConfig(cfg, fmt.Sprintf("tolerance: %s", cfg.Tolerance.Absolute))
		return
	}
	cfg.Tolerance.Relative += float64(dir) * 0.01
	m.applyConfig(cfg, fmt.Sprintf("tolerance: %.0f%%", cfg.Tolerance.Relative*100))
}

func (m *Model) applyConfig(cfg model.Detection, ok string) {
	if err := m.engine.Configure(cfg); err != nil {
		m.setNotice(err.Error())
		return
	}
	m.setNotice(ok)
}

func (m *Model) setNotice(s string) {
	m.notice = s
	m.noticeAt = time.Now()
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	header := m.renderHeader()
	plot := m.renderPlot()
	hyps := m.hypTable.View()
	footer := m.renderFooter()

	body := lipgloss.JoinVertical(lipgloss.Left, header, "", plot, "", hyps)
	bodyHeight := m.height - 1
	placed := lipgloss.Place(m.width, bodyHeight, lipgloss.Left, lipgloss.Top, body)
	return placed + "\n" + lipgloss.Place(m.width, 1, lipgloss.Left, lipgloss.Bottom, footer)
}

func (m *Model) renderHeader() string {
	var readout string
	if m.snap.Estimate.OK {
		readout = bpmStyle.Render(fmt.Sprintf("%.1f BPM", m.snap.Estimate.BPM))
	} else {
		readout = idleStyle.Render("--- BPM")
	}
	stats := headerStyle.Render(fmt.Sprintf(
		"  onsets %d · intervals %d · %s",
		m.snap.Onsets, m.snap.Intervals, m.device))
	return readout + stats
}

func (m *Model) renderPlot() string {
	cfg := m.engine.Config()
	title := plotTitleStyle.Render(fmt.Sprintf(
		"Tempo curve %.0f–%.0f BPM · %s falloff · harmonics ≤%d",
		cfg.Range.Min, cfg.Range.Max, cfg.Tolerance.Shape, cfg.MaxHarmonic))

	plotWidth := m.width - len(axisLabelTop) - len([]rune(axisSeparator)) - 2
	plotHeight := m.height - maxTableRows - 8
	if plotHeight < minPlotHeight {
		plotHeight = minPlotHeight
	}
	curve := renderCurve(m.snap.Curve, plotWidth, plotHeight,
		m.snap.Estimate.BPM, m.snap.Estimate.OK)
	if curve == "" {
		curve = idleStyle.Render("waiting for onsets")
	}
	return title + "\n" + plotBorderStyle.Render(curve)
}

func (m *Model) renderFooter() string {
	if m.notice != "" && time.Since(m.noticeAt) < noticeTTL {
		return noticeStyle.Render(truncate(m.notice, m.width))
	}
	help := "q quit · r reset · g falloff · +/- harmonics · [/] smoothing · t/T tolerance"
	return footerStyle.Render(truncate(help, m.width))
}

// truncate clips a line to the given display width, accounting for
// wide runes.
func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

func (m *Model) refreshTable() {
	rows := make([]table.Row, 0, maxTableRows)
	for i, h := range m.snap.Hypotheses {
		if i == maxTableRows {
			break
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.1f", h.BPM),
			fmt.Sprintf("%.3f", h.Score),
			fmt.Sprintf("%.0f%%", h.Confidence*100),
		})
	}
	m.hypTable.SetRows(rows)
}

func newHypothesisTable() table.Model {
	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "BPM", Width: 8},
		{Title: "Score", Width: 10},
		{Title: "Confidence", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows(nil),
		table.WithHeight(maxTableRows),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell
	t.SetStyles(styles)
	return t
}

// Run starts the dashboard program and blocks until it exits.
func Run(m *Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}
