package tui

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"pngoo-go/internal/statistics"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ProgressUpdate carries deltas; the model sums them.
type ProgressUpdate struct {
	TotalDelta      int
	ProcessedDelta  int
	CompressedDelta int
	KeptDelta       int
	ErrorDelta      int
	BytesSavedDelta int64
	LastFile        string
}

// CancellingMsg tells the view that no new files will start. Deliver it with
// tea.Program.Send.
type CancellingMsg struct{}

type Model struct {
	updates    <-chan ProgressUpdate
	started    time.Time
	width      int
	total      int
	processed  int
	compressed int
	kept       int
	errors     int
	bytesSaved int64
	lastFile   string
	cancelling bool
	quitting   bool
}

type doneMsg struct{}

type updateMsg ProgressUpdate

func NewModel(updates <-chan ProgressUpdate) Model {
	return Model{updates: updates, started: time.Now()}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case updateMsg:
		m.total += msg.TotalDelta
		m.processed += msg.ProcessedDelta
		m.compressed += msg.CompressedDelta
		m.kept += msg.KeptDelta
		m.errors += msg.ErrorDelta
		m.bytesSaved += msg.BytesSavedDelta
		if msg.LastFile != "" {
			m.lastFile = msg.LastFile
		}
		return m, listenForUpdates(m.updates)
	case CancellingMsg:
		m.cancelling = true
		return m, nil
	case doneMsg:
		m.quitting = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	barWidth := 40
	if m.width > 0 {
		barWidth = int(math.Min(60, float64(m.width-10)))
		if barWidth < 20 {
			barWidth = 20
		}
	}

	ratio := 0.0
	if m.total > 0 {
		ratio = math.Min(1, float64(m.processed)/float64(m.total))
	}

	title := titleStyle.Render("pngoo")
	if m.cancelling {
		title += warnStyle.Render("  cancelling, finishing in-flight files")
	}

	lines := []string{
		title,
		labelStyle.Render(fmt.Sprintf("Files: %d/%d", m.processed, m.total)) +
			dimStyle.Render(fmt.Sprintf("  compressed:%d kept:%d errors:%d", m.compressed, m.kept, m.errors)),
		labelStyle.Render("Saved: " + statistics.FormatBytes(m.bytesSaved)),
		dimStyle.Render(fmt.Sprintf("Elapsed: %s", time.Since(m.started).Round(time.Millisecond))),
		barStyle.Render(renderBar(barWidth, ratio)),
	}
	if m.lastFile != "" {
		lines = append(lines, dimStyle.Render(filepath.Base(m.lastFile)))
	}

	return strings.Join(lines, "\n")
}

func listenForUpdates(updates <-chan ProgressUpdate) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return doneMsg{}
		}
		return updateMsg(update)
	}
}

func renderBar(width int, ratio float64) string {
	filled := int(math.Round(ratio * float64(width)))
	filled = max(0, min(filled, width))
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	labelStyle = lipgloss.NewStyle().Foreground(ColorInk)
	barStyle   = lipgloss.NewStyle().Foreground(ColorSuccess)
	dimStyle   = lipgloss.NewStyle().Foreground(ColorDim)
	warnStyle  = lipgloss.NewStyle().Foreground(ColorWarn)
)
