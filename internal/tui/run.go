package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/rosterbuild/internal/orchestrator"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// StageStatus is the display state of one stage row.
type StageStatus string

const (
	StatusPending  StageStatus = "pending"
	StatusRunning  StageStatus = "running"
	StatusDone     StageStatus = "done"
	StatusDegraded StageStatus = "degraded"
)

// StageRow is one line of the stage table.
type StageRow struct {
	Name     string
	Status   StageStatus
	Duration time.Duration
	Error    string
}

// RunState tracks progress of one pipeline run.
type RunState struct {
	RunID  string
	Title  string
	Stages []StageRow
}

// Finished counts rows in a terminal status.
func (s RunState) Finished() int {
	n := 0
	for _, r := range s.Stages {
		if r.Status == StatusDone || r.Status == StatusDegraded {
			n++
		}
	}
	return n
}

// Running counts rows currently executing.
func (s RunState) Running() int {
	n := 0
	for _, r := range s.Stages {
		if r.Status == StatusRunning {
			n++
		}
	}
	return n
}

// Degraded counts rows holding a failure placeholder.
func (s RunState) Degraded() int {
	n := 0
	for _, r := range s.Stages {
		if r.Status == StatusDegraded {
			n++
		}
	}
	return n
}

func (s *RunState) row(name string) *StageRow {
	for i := range s.Stages {
		if s.Stages[i].Name == name {
			return &s.Stages[i]
		}
	}
	s.Stages = append(s.Stages, StageRow{Name: name, Status: StatusPending})
	return &s.Stages[len(s.Stages)-1]
}

// Apply folds one orchestrator event into the state.
func (s *RunState) Apply(ev orchestrator.OrchestratorEvent) {
	if ev.RunID != "" {
		s.RunID = ev.RunID
	}
	if ev.Stage == "" {
		return
	}
	r := s.row(ev.Stage)
	switch ev.Type {
	case orchestrator.EventStageStarted:
		r.Status = StatusRunning
	case orchestrator.EventStageCompleted:
		r.Status = StatusDone
		r.Duration = ev.Duration
	case orchestrator.EventStageFailed:
		r.Status = StatusDegraded
		r.Duration = ev.Duration
		if ev.Error != nil {
			r.Error = ev.Error.Error()
		}
	}
}

// EventMsg carries an orchestrator event into the program.
type EventMsg struct {
	Event orchestrator.OrchestratorEvent
}

// LogMsg adds a line to the activity log.
type LogMsg struct {
	Timestamp time.Time
	Stage     string
	Message   string
}

// DoneMsg is sent once with the run outcome.
type DoneMsg struct {
	Outcome models.Outcome
}

// LogEntry is one activity log line.
type LogEntry struct {
	Timestamp time.Time
	Stage     string
	Message   string
}

const maxLogLines = 8

// RunApp is the bubbletea model for the live run view.
type RunApp struct {
	state    RunState
	logs     []LogEntry
	spinner  spinner.Model
	width    int
	height   int
	quitting bool
	done     bool
	outcome  models.Outcome
	cancel   func()

	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	doneStyle     lipgloss.Style
	degradedStyle lipgloss.Style
	pendingStyle  lipgloss.Style
	logTimeStyle  lipgloss.Style
	logStyle      lipgloss.Style
	errorStyle    lipgloss.Style
}

// NewRunApp creates the model with every stage listed as pending.
func NewRunApp(title string, stages []string) *RunApp {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	rows := make([]StageRow, 0, len(stages))
	for _, name := range stages {
		rows = append(rows, StageRow{Name: name, Status: StatusPending})
	}

	return &RunApp{
		state:   RunState{Title: title, Stages: rows},
		spinner: s,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),
		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),
		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		progressFull:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		progressEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		doneStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		degradedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		pendingStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		logTimeStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		logStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		errorStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
}

// SetCancel registers a function called when the user quits before the run ends.
func (a *RunApp) SetCancel(cancel func()) {
	a.cancel = cancel
}

// State returns the current run state.
func (a *RunApp) State() RunState {
	return a.state
}

// Outcome returns the outcome once DoneMsg has been received.
func (a *RunApp) Outcome() (models.Outcome, bool) {
	return a.outcome, a.done
}

// Init implements tea.Model.
func (a *RunApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *RunApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !a.done && a.cancel != nil {
				a.cancel()
			}
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.state.Apply(msg.Event)
		if line := describe(msg.Event); line != "" {
			a.appendLog(LogEntry{Timestamp: msg.Event.Timestamp, Stage: msg.Event.Stage, Message: line})
		}

	case LogMsg:
		a.appendLog(LogEntry(msg))

	case DoneMsg:
		a.done = true
		a.outcome = msg.Outcome
		if msg.Outcome.RunID != "" {
			a.state.RunID = msg.Outcome.RunID
		}
		// Leave the final state up until the user quits.
	}
	return a, nil
}

func (a *RunApp) appendLog(e LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	a.logs = append(a.logs, e)
	if len(a.logs) > maxLogLines*4 {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

func describe(ev orchestrator.OrchestratorEvent) string {
	switch ev.Type {
	case orchestrator.EventStageStarted:
		return "started"
	case orchestrator.EventStageCompleted:
		return fmt.Sprintf("completed in %s", ev.Duration.Round(time.Millisecond))
	case orchestrator.EventStageFailed:
		if ev.Error != nil {
			return "degraded: " + orchestrator.Truncate(ev.Error.Error(), 80)
		}
		return "degraded"
	case orchestrator.EventRunDone:
		return "run done"
	}
	return ""
}

// View implements tea.Model.
func (a *RunApp) View() string {
	if a.quitting && !a.done {
		return "Run cancelled.\n"
	}

	var b strings.Builder

	title := a.state.Title
	if title == "" {
		title = "Roster Build"
	}
	b.WriteString(a.headerStyle.Render(title))
	b.WriteString("\n")

	if a.state.RunID != "" {
		b.WriteString(a.labelStyle.Render("Run:"))
		b.WriteString(a.valueStyle.Render(a.state.RunID))
		b.WriteString("\n")
	}

	total := len(a.state.Stages)
	finished := a.state.Finished()
	pct := float64(0)
	if total > 0 {
		pct = float64(finished) / float64(total) * 100
	}
	b.WriteString(a.labelStyle.Render("Stages:"))
	b.WriteString(a.valueStyle.Render(fmt.Sprintf("%d/%d done, %d running, %d degraded",
		finished, total, a.state.Running(), a.state.Degraded())))
	b.WriteString("\n")
	b.WriteString(a.renderProgressBar(pct, 30))
	b.WriteString("\n\n")

	for _, r := range a.state.Stages {
		b.WriteString(a.renderRow(r))
		b.WriteString("\n")
	}

	if len(a.logs) > 0 {
		b.WriteString("\n")
		b.WriteString(a.renderLogs())
	}

	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	b.WriteString("\n")
	return b.String()
}

func (a *RunApp) renderRow(r StageRow) string {
	var marker, status string
	switch r.Status {
	case StatusRunning:
		marker = a.spinner.View()
		status = "running"
	case StatusDone:
		marker = a.doneStyle.Render("✓")
		status = a.doneStyle.Render(r.Duration.Round(time.Millisecond).String())
	case StatusDegraded:
		marker = a.degradedStyle.Render("!")
		status = a.degradedStyle.Render("degraded")
		if r.Error != "" {
			status += " " + a.pendingStyle.Render(orchestrator.Truncate(r.Error, 60))
		}
	default:
		marker = a.pendingStyle.Render("·")
		status = a.pendingStyle.Render("pending")
	}
	name := lipgloss.NewStyle().Width(22).Render(r.Name)
	return fmt.Sprintf("  %s %s %s", marker, name, status)
}

func (a *RunApp) renderLogs() string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > maxLogLines {
		start = len(a.logs) - maxLogLines
	}
	for _, e := range a.logs[start:] {
		ts := a.logTimeStyle.Render(e.Timestamp.Format("15:04:05"))
		stage := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(20).
			Render(e.Stage)
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, stage, a.logStyle.Render(e.Message)))
	}
	return b.String()
}

func (a *RunApp) renderFooter() string {
	if !a.done {
		return a.pendingStyle.Render("Press q to cancel")
	}
	switch a.outcome.Kind {
	case models.OutcomeSuccess:
		msg := fmt.Sprintf("Roster built in %s. Press q to view it.", a.outcome.Duration.Round(time.Millisecond))
		if n := len(a.outcome.Degraded); n > 0 {
			return a.degradedStyle.Render(fmt.Sprintf("%s (%d degraded stage(s))", msg, n))
		}
		return a.doneStyle.Render(msg)
	case models.OutcomeTimeout:
		return a.errorStyle.Render("Timed out: " + a.outcome.Description)
	default:
		return a.errorStyle.Render("Failed: " + a.outcome.Description)
	}
}

// renderProgressBar renders a progress bar.
func (a *RunApp) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.0f%%", bar, pct)
}

// NewRunProgram creates a bubbletea program for the live run view.
func NewRunProgram(title string, stages []string, opts ...tea.ProgramOption) (*tea.Program, *RunApp) {
	app := NewRunApp(title, stages)
	return tea.NewProgram(app, opts...), app
}

// Forward sends every event from events to send until the channel closes.
func Forward(events <-chan orchestrator.OrchestratorEvent, send func(tea.Msg)) {
	for ev := range events {
		send(EventMsg{Event: ev})
	}
}
