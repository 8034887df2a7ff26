package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/tsrebuild/demux"
	"github.com/pithecene-io/tsrebuild/types"
)

// FileView is the payload of inspect FILE.
type FileView struct {
	Path     string             `json:"path"`
	Interval string             `json:"interval,omitempty"`
	Records  []demux.RecordInfo `json:"records"`
	// MaxDriftNanos is the largest absolute drift between capture and PCR deltas.
	MaxDriftNanos int64  `json:"max_drift_ns"`
	Error         string `json:"error,omitempty"`
}

// StateView is the payload of state OUTPUT.
type StateView struct {
	Output   string                  `json:"output"`
	Sidecar  string                  `json:"sidecar"`
	Status   string                  `json:"status"`
	Snapshot *types.ProgressSnapshot `json:"snapshot,omitempty"`
}

const pageSize = 20

// InspectModel is a Bubble Tea model for the static views.
type InspectModel struct {
	viewType string
	data     any
	offset   int
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Down):
			if m.offset+pageSize < m.rows() {
				m.offset++
			}
		case key.Matches(msg, keys.Up):
			if m.offset > 0 {
				m.offset--
			}
		}
	}

	return m, nil
}

func (m InspectModel) rows() int {
	if v, ok := m.data.(*FileView); ok {
		return len(v.Records)
	}
	return 0
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewInspectFile:
		content = m.renderFile()
	case ViewState:
		content = m.renderState()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("↑/↓ scroll • q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderFile() string {
	data, ok := m.data.(*FileView)
	if !ok {
		return "Invalid data type for inspect_file"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(data.Path))
	b.WriteString("\n")
	writeRow(&b, "Interval:", data.Interval, ValueStyle)
	writeRow(&b, "Records:", fmt.Sprintf("%d", len(data.Records)), ValueStyle)
	writeRow(&b, "Max drift:", fmt.Sprintf("%d ns", data.MaxDriftNanos), ValueStyle)
	if data.Error != "" {
		writeRow(&b, "Error:", data.Error, ErrorStyle)
	}
	b.WriteString("\n")

	header := fmt.Sprintf("%6s %10s %6s %20s %16s %8s %14s", "#", "offset", "meta", "capture_ns", "pcr", "payload", "drift_ns")
	b.WriteString(LabelStyle.Width(0).Render(header))
	b.WriteString("\n")

	end := min(m.offset+pageSize, len(data.Records))
	for _, r := range data.Records[m.offset:end] {
		line := fmt.Sprintf("%6d %10d %6d %20d %16d %8d %14d",
			r.Index, r.Offset, r.Meta, r.CaptureNanos, r.PCR, r.PayloadLength, r.DriftNanos)
		b.WriteString(ValueStyle.Render(line))
		b.WriteString("\n")
	}

	return BoxStyle.Render(b.String())
}

func (m InspectModel) renderState() string {
	data, ok := m.data.(*StateView)
	if !ok {
		return "Invalid data type for state"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Progress Snapshot"))
	b.WriteString("\n")
	writeRow(&b, "Output:", data.Output, ValueStyle)
	writeRow(&b, "Sidecar:", data.Sidecar, ValueStyle)
	writeRow(&b, "Status:", data.Status, ValueStyle)

	if s := data.Snapshot; s != nil {
		state := "in_progress"
		if s.Completed {
			state = "completed"
		}
		writeRow(&b, "State:", state, StateStyle(state))
		writeRow(&b, "Written:", s.Timestamp.UTC().Format("2006-01-02 15:04:05"), ValueStyle)
		b.WriteString("\n")

		boxes := []string{
			renderStatBox("Downloaded", len(s.DownloadedFiles), highlightColor),
			renderStatBox("Processed", int(s.FilesProcessed), successColor),
			renderStatBox("Parse Failed", int(s.FilesParseFailed), errorColor),
			renderStatBox("Skipped", int(s.FilesSkipped), warningColor),
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		b.WriteString("\n")
		writeRow(&b, "Packets:", fmt.Sprintf("%d", s.PacketsProcessed), ValueStyle)
		writeRow(&b, "Bytes in:", fmt.Sprintf("%d", s.BytesProcessedIn), ValueStyle)
		writeRow(&b, "Bytes out:", fmt.Sprintf("%d", s.OutputBytesWritten), ValueStyle)
	}

	return BoxStyle.Render(b.String())
}

func writeRow(b *strings.Builder, label, value string, style lipgloss.Style) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "%s %s\n", LabelStyle.Render(label), style.Render(value))
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "scroll up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "scroll down"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders a view without the full TUI.
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
