// Package tui renders the live usage display. It owns the screen; all other
// output goes to the log file.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"clawmon/internal/fetch"
	"clawmon/internal/monitor"
	"clawmon/internal/statuspage"
	"clawmon/internal/usage"
)

// RefreshFunc runs one monitor cycle and returns its report.
type RefreshFunc func(context.Context) monitor.Report

// RetryFunc clears the dismissed-login latch before the next refresh.
type RetryFunc func()

// Options configures the display.
type Options struct {
	Interval time.Duration
	Refresh  RefreshFunc
	Retry    RetryFunc
	NoColor  bool
}

// Model is the bubbletea model for the usage display.
type Model struct {
	interval time.Duration
	refresh  RefreshFunc
	retry    RetryFunc

	width  int
	height int
	now    time.Time

	refreshing    bool
	report        monitor.Report
	haveReport    bool
	lastAttemptAt time.Time
	nextRefreshAt time.Time

	styles styles
}

type styles struct {
	title  lipgloss.Style
	dim    lipgloss.Style
	panel  lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	bad    lipgloss.Style
	accent lipgloss.Style
}

type pollTickMsg struct{ at time.Time }

type clockTickMsg struct{ at time.Time }

type refreshDoneMsg struct {
	at     time.Time
	report monitor.Report
}

// NewModel builds the display model.
func NewModel(opts Options) Model {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	refresh := opts.Refresh
	if refresh == nil {
		refresh = func(context.Context) monitor.Report {
			return monitor.Report{Outcome: monitor.OutcomeFetchFailed, Err: errors.New("no refresh function wired")}
		}
	}
	now := time.Now()
	return Model{
		interval:      interval,
		refresh:       refresh,
		retry:         opts.Retry,
		now:           now,
		refreshing:    true,
		nextRefreshAt: now.Add(interval),
		styles:        defaultStyles(opts.NoColor),
	}
}

func defaultStyles(noColor bool) styles {
	basePanel := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	if noColor {
		bold := lipgloss.NewStyle().Bold(true)
		return styles{
			title: bold, dim: lipgloss.NewStyle(), panel: basePanel,
			label: bold, value: lipgloss.NewStyle(),
			ok: bold, warn: bold, bad: bold, accent: bold,
		}
	}
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("94")).Padding(0, 1),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		panel:  basePanel.BorderForeground(lipgloss.Color("137")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("109")),
		value:  lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		ok:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warn:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		bad:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		accent: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(m.refresh), pollCmd(m.interval), clockCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.KeyMsg:
		switch v.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			if m.retry != nil {
				m.retry()
			}
			if !m.refreshing {
				m.refreshing = true
				return m, refreshCmd(m.refresh)
			}
		}
	case tea.WindowSizeMsg:
		m.width = v.Width
		m.height = v.Height
	case pollTickMsg:
		m.nextRefreshAt = v.at.Add(m.interval)
		cmds := []tea.Cmd{pollCmd(m.interval)}
		if !m.refreshing {
			m.refreshing = true
			cmds = append(cmds, refreshCmd(m.refresh))
		}
		return m, tea.Batch(cmds...)
	case clockTickMsg:
		m.now = v.at
		return m, clockCmd()
	case refreshDoneMsg:
		m.refreshing = false
		m.lastAttemptAt = v.at
		m.report = v.report
		m.haveReport = true
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "initializing..."
	}

	header := m.renderHeader()
	body := m.renderBody()
	help := m.styles.dim.Render("q quit · r retry login")

	lines := []string{header, body, "", help}
	out := lipgloss.JoinVertical(lipgloss.Left, lines...)
	return clipToViewport(out, m.width, m.height)
}

func (m Model) renderHeader() string {
	title := m.styles.title.Render(" clawmon ")

	badge, style := m.badge()
	left := title + "  " + style.Render(badge)
	if !m.nextRefreshAt.IsZero() {
		left += " " + m.styles.dim.Render("[next refresh in "+humanDuration(m.nextRefreshAt.Sub(m.now))+"]")
	}
	right := m.styles.dim.Render(m.now.Format("15:04:05"))
	return joinWithPaddingKeepRight(left, right, m.width)
}

// badge maps each cycle outcome to its own label so the user can always tell
// which failure mode they are in.
func (m Model) badge() (string, lipgloss.Style) {
	if m.refreshing && !m.haveReport {
		return "refreshing", m.styles.accent
	}
	if !m.haveReport {
		return "starting", m.styles.dim
	}
	switch m.report.Outcome {
	case monitor.OutcomeOK:
		if m.report.Snapshot != nil && m.report.Snapshot.Scraped {
			return "ok (scraped)", m.styles.warn
		}
		return "ok", m.styles.ok
	case monitor.OutcomeBrowserBusy:
		return "browser busy", m.styles.warn
	case monitor.OutcomeLoginInProgress:
		return "login in progress elsewhere", m.styles.warn
	case monitor.OutcomeLoginRequired:
		return "login required · press r", m.styles.bad
	case monitor.OutcomeLoginFailed:
		return "login failed · press r", m.styles.bad
	case monitor.OutcomeFetchFailed:
		switch m.report.FailureKind {
		case fetch.FailPageTimeout:
			return "page timeout", m.styles.bad
		case fetch.FailAPIRejected:
			return "api rejected", m.styles.bad
		case fetch.FailLayoutChanged:
			return "layout changed", m.styles.bad
		default:
			return "fetch failed", m.styles.bad
		}
	default:
		return string(m.report.Outcome), m.styles.dim
	}
}

func (m Model) renderBody() string {
	contentWidth := max(24, m.width-4)

	var blocks []string
	if snap := m.report.Snapshot; snap != nil {
		blocks = append(blocks, m.renderUsagePanel(snap, contentWidth))
	} else if m.haveReport {
		blocks = append(blocks, m.styles.panel.Width(contentWidth).Render(
			m.styles.warn.Render("no usage data yet · showing local telemetry only")))
	} else {
		blocks = append(blocks, m.styles.panel.Width(contentWidth).Render(
			m.styles.dim.Render("loading usage data...")))
	}

	blocks = append(blocks, m.renderLocalPanel(contentWidth))

	if line := m.serviceLine(contentWidth); line != "" {
		blocks = append(blocks, line)
	}
	if m.report.Err != nil {
		errLine := ansi.Truncate(m.styles.bad.Render("last error: "+m.report.Err.Error()), contentWidth, "...")
		blocks = append(blocks, errLine)
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func (m Model) renderUsagePanel(snap *usage.Snapshot, width int) string {
	lines := []string{
		m.styles.accent.Render("session") + "  " +
			percentStyle(snap.SessionPercent, m.styles).Render(fmt.Sprintf("%.0f%%", snap.SessionPercent)) +
			m.styles.label.Render("  resets in ") + m.styles.value.Render(snap.SessionReset),
		m.styles.accent.Render("week   ") + "  " +
			percentStyle(snap.WeekPercent, m.styles).Render(fmt.Sprintf("%.0f%%", snap.WeekPercent)) +
			m.styles.label.Render("  resets in ") + m.styles.value.Render(snap.WeekReset),
	}

	for _, tier := range []usage.ModelTier{usage.TierOpus, usage.TierSonnet} {
		if pct, ok := snap.ModelPercents[tier]; ok {
			lines = append(lines, m.styles.label.Render(fmt.Sprintf("%-7s", tier))+"  "+
				percentStyle(pct, m.styles).Render(fmt.Sprintf("%.0f%%", pct)))
		}
	}
	if c := snap.Credits; c != nil {
		lines = append(lines, m.styles.label.Render("credits")+"  "+
			m.styles.value.Render(fmt.Sprintf("%.2f %s", c.Amount, c.Currency)))
	}
	if o := snap.Overage; o != nil {
		lines = append(lines, m.styles.label.Render("overage")+"  "+
			m.styles.value.Render(fmt.Sprintf("%.2f / %.2f %s", o.Used, o.Limit, o.Currency)))
	}

	age := m.now.Sub(snap.CapturedAt)
	stamp := "captured " + humanDuration(age) + " ago"
	if age > 2*m.interval {
		stamp += " (stale)"
	}
	lines = append(lines, m.styles.dim.Render(stamp))

	for i := range lines {
		lines[i] = ansi.Truncate(lines[i], max(4, width-4), "...")
	}
	return m.styles.panel.Width(width).Render(strings.Join(lines, "\n"))
}

func (m Model) renderLocalPanel(width int) string {
	local := m.report.Local
	lines := []string{
		m.styles.accent.Render("local tokens"),
		m.styles.label.Render("today  ") + "  " + m.styles.value.Render(compactCount(local.TodayTokens)) +
			m.styles.dim.Render(fmt.Sprintf("  ($%.2f)", local.TodayCostUSD)),
		m.styles.label.Render("30 days") + "  " + m.styles.value.Render(compactCount(local.Last30Tokens)) +
			m.styles.dim.Render(fmt.Sprintf("  ($%.2f)", local.Last30CostUSD)),
	}
	for i := range lines {
		lines[i] = ansi.Truncate(lines[i], max(4, width-4), "...")
	}
	return m.styles.panel.Width(width).Render(strings.Join(lines, "\n"))
}

func (m Model) serviceLine(width int) string {
	svc := m.report.Service
	if !svc.Degraded() {
		return ""
	}
	style := m.styles.warn
	if svc.Indicator == statuspage.IndicatorMajor || svc.Indicator == statuspage.IndicatorCritical {
		style = m.styles.bad
	}
	line := style.Render("service " + string(svc.Indicator) + ": " + svc.Description)
	return ansi.Truncate(line, width, "...")
}

func percentStyle(percent float64, s styles) lipgloss.Style {
	switch {
	case percent >= 90:
		return s.bad
	case percent >= 70:
		return s.warn
	default:
		return s.ok
	}
}

func compactCount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	if v < 1000 {
		return fmt.Sprintf("%s%d", sign, v)
	}
	units := []string{"", "k", "m", "b"}
	value := float64(v)
	idx := 0
	for value >= 1000 && idx < len(units)-1 {
		value /= 1000
		idx++
	}
	decimals := 2
	switch {
	case value >= 100:
		decimals = 0
	case value >= 10:
		decimals = 1
	}
	formatted := fmt.Sprintf("%.*f", decimals, value)
	if decimals > 0 {
		formatted = strings.TrimRight(strings.TrimRight(formatted, "0"), ".")
	}
	return sign + formatted + units[idx]
}

func pollCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return pollTickMsg{at: t} })
}

func clockCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockTickMsg{at: t} })
}

func refreshCmd(refresh RefreshFunc) tea.Cmd {
	return func() tea.Msg {
		report := refresh(context.Background())
		return refreshDoneMsg{at: time.Now(), report: report}
	}
}

// Run starts the display and blocks until the user quits.
func Run(opts Options) error {
	prog := tea.NewProgram(NewModel(opts), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

func joinWithPaddingKeepRight(left, right string, width int) string {
	if width <= 0 {
		return ""
	}
	rightWidth := lipgloss.Width(right)
	if rightWidth >= width {
		return ansi.Truncate(right, width, "")
	}
	left = ansi.Truncate(left, max(0, width-rightWidth-1), "")
	padding := width - lipgloss.Width(left) - rightWidth
	if padding < 1 {
		padding = 1
	}
	return left + strings.Repeat(" ", padding) + right
}

func clipToViewport(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for i := range lines {
		lines[i] = ansi.Truncate(lines[i], width, "")
	}
	return strings.Join(lines, "\n")
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	switch {
	case d < time.Second:
		return "<1s"
	case d < time.Minute:
		return d.String()
	case d < time.Hour:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
