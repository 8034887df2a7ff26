package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tsrebuild/types"
)

const maxBarWidth = 60

// PhaseMsg starts a pipeline phase with total work items.
type PhaseMsg struct {
	Phase string
	Total int
}

// FetchMsg reports one finished retrieval task.
type FetchMsg struct {
	Outcome types.FetchOutcome
	Bytes   int64
}

// FileMsg reports one handled input file.
type FileMsg struct {
	Outcome types.ParseOutcome
	Packets int64
}

// DoneMsg ends the view with the run outcome.
type DoneMsg struct {
	Outcome types.RunOutcome
}

// ProgressModel is a Bubble Tea model for a running rebuild.
type ProgressModel struct {
	title string
	bar   progress.Model

	phase string
	total int
	done  int

	foundLocally int
	downloaded   int
	fetchFailed  int
	bytesFetched int64

	processed   int
	parseFailed int
	skipped     int
	packets     int64

	outcome  *types.RunOutcome
	quitting bool
	onQuit   func()
}

// NewProgressModel creates a progress model. onQuit runs when the user
// quits before the run finishes and may be nil.
func NewProgressModel(title string, onQuit func()) ProgressModel {
	return ProgressModel{
		title:  title,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		onQuit: onQuit,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, maxBarWidth)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			if m.onQuit != nil && m.outcome == nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case PhaseMsg:
		m.phase = msg.Phase
		m.total = msg.Total
		m.done = 0

	case FetchMsg:
		m.done++
		switch {
		case msg.Outcome == types.FetchFoundLocally:
			m.foundLocally++
		case msg.Outcome == types.FetchDownloaded:
			m.downloaded++
			m.bytesFetched += msg.Bytes
		case msg.Outcome.IsFailure():
			m.fetchFailed++
		}

	case FileMsg:
		m.done++
		m.packets += msg.Packets
		switch msg.Outcome {
		case types.ParseOK:
			m.processed++
		case types.ParseFailed:
			m.parseFailed++
		case types.ParseSkipped:
			m.skipped++
		}

	case DoneMsg:
		outcome := msg.Outcome
		m.outcome = &outcome
		return m, tea.Quit
	}

	return m, nil
}

// Percent returns the completed fraction of the current phase.
func (m ProgressModel) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.done)/float64(m.total), 1)
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(m.title))
	b.WriteString("\n")

	if m.phase != "" {
		fmt.Fprintf(&b, "%s %s\n",
			LabelStyle.Render(m.phase+":"),
			ValueStyle.Render(fmt.Sprintf("%d/%d", m.done, m.total)))
		b.WriteString(m.bar.ViewAs(m.Percent()))
		b.WriteString("\n\n")
	}

	fetch := []string{
		renderStatBox("Local", m.foundLocally, successColor),
		renderStatBox("Downloaded", m.downloaded, highlightColor),
		renderStatBox("Fetch Failed", m.fetchFailed, errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, fetch...))
	b.WriteString("\n")

	parse := []string{
		renderStatBox("Processed", m.processed, successColor),
		renderStatBox("Parse Failed", m.parseFailed, errorColor),
		renderStatBox("Skipped", m.skipped, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, parse...))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Packets:"), ValueStyle.Render(fmt.Sprintf("%d", m.packets)))

	switch {
	case m.outcome != nil:
		status := string(m.outcome.Status)
		fmt.Fprintf(&b, "%s %s\n", LabelStyle.Render("Outcome:"), StateStyle(status).Render(status))
		if m.outcome.Message != "" {
			b.WriteString(HelpStyle.Render(m.outcome.Message))
			b.WriteString("\n")
		}
	case m.quitting:
		b.WriteString(WarningStyle.Render("Stopping..."))
		b.WriteString("\n")
	default:
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to stop"))
		b.WriteString("\n")
	}
	return b.String()
}

func renderStatBox(label string, value int, color lipgloss.TerminalColor) string {
	style := StatBoxStyle.BorderForeground(color)
	content := fmt.Sprintf("%s\n%s",
		StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value)),
		StatLabelStyle.Render(label))
	return style.Render(content)
}

// Reporter feeds a ProgressModel from pipeline observers. Its methods are
// safe for concurrent use.
type Reporter struct {
	program *tea.Program
	done    chan struct{}
}

// NewReporter creates a reporter drawing to out. onQuit runs when the user
// quits before Finish.
func NewReporter(title string, in io.Reader, out io.Writer, onQuit func()) *Reporter {
	opts := []tea.ProgramOption{tea.WithOutput(out)}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	} else {
		opts = append(opts, tea.WithInput(nil))
	}
	return &Reporter{
		program: tea.NewProgram(NewProgressModel(title, onQuit), opts...),
		done:    make(chan struct{}),
	}
}

// Start runs the view in the background.
func (r *Reporter) Start() {
	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
}

// Phase starts a new phase.
func (r *Reporter) Phase(phase string, total int) {
	r.program.Send(PhaseMsg{Phase: phase, Total: total})
}

// Fetch records a retrieval result.
func (r *Reporter) Fetch(outcome types.FetchOutcome, bytes int64) {
	r.program.Send(FetchMsg{Outcome: outcome, Bytes: bytes})
}

// File records a parsed file.
func (r *Reporter) File(outcome types.ParseOutcome, packets int64) {
	r.program.Send(FileMsg{Outcome: outcome, Packets: packets})
}

// Finish shows the outcome and waits for the view to exit.
func (r *Reporter) Finish(outcome types.RunOutcome) {
	r.program.Send(DoneMsg{Outcome: outcome})
	<-r.done
}
