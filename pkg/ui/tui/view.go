package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"pexelsync/pkg/models"
	"pexelsync/pkg/ui"
)

// View renders the entire TUI
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	colWidth := (m.width - 4) / 2

	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderRunPanel(colWidth),
		m.renderSearchPanel(colWidth),
		m.renderUploadPanel(colWidth),
	)
	right := m.renderLogsPanel(colWidth)

	sections := []string{
		m.renderHeader(),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
	}
	if m.summary != nil {
		sections = append(sections, m.renderSummary())
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render(m.hint()))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	status := m.spinner.View() + " " + m.phase.String()
	if m.cancelRequested && m.phase != PhaseDone {
		status = warningStyle.Render("cancelling...")
	}
	if m.summary != nil {
		status = statusStyle(string(m.summary.Status)).Render(string(m.summary.Status))
	}
	return headerStyle.Render("PEXELSYNC") + "  " + status + "  " + m.progress.ViewAs(m.Percent())
}

func (m Model) renderRunPanel(width int) string {
	rows := []string{
		row("Query:", fmt.Sprintf("%q", m.req.Query)),
		row("Window:", fmt.Sprintf("offset %d, count %d", m.req.Offset, m.req.Count)),
		row("Pages:", m.window),
		row("Method:", string(m.req.Method)),
		row("Elapsed:", formatClock(m.elapsed())),
	}
	return panel(" RUN ", width, rows)
}

func (m Model) renderSearchPanel(width int) string {
	rows := []string{
		row("Pages:", fmt.Sprintf("%d/%d", m.pagesDone, m.pages)),
		row("Accepted:", fmt.Sprintf("%d", m.accepted)),
		row("Filtered:", fmt.Sprintf("%d bad links, %d bad extensions, %d duplicates",
			m.counters.BadLinks, m.counters.BadExtensions, m.counters.Duplicates)),
		row("In dataset:", fmt.Sprintf("%d", m.counters.ExistingDuplicates)),
	}
	if m.pageErrors > 0 {
		rows = append(rows, warningStyle.Render(fmt.Sprintf("⚠ %d pages skipped", m.pageErrors)))
	}
	return panel(" SEARCH ", width, rows)
}

func (m Model) renderUploadPanel(width int) string {
	rows := []string{
		row("Batch:", fmt.Sprintf("%d/%d", m.batch, m.batches)),
		row("Uploaded:", fmt.Sprintf("%d/%d", m.uploaded, m.accepted)),
	}
	if m.req.Method == models.MethodFiles {
		rows = append(rows,
			row("Downloaded:", fmt.Sprintf("%d (%s)", m.downloaded, ui.FormatBytes(m.bytes))),
		)
		if m.failed > 0 {
			rows = append(rows, errorStyle.Render(fmt.Sprintf("✗ %d downloads failed", m.failed)))
		}
	}
	return panel(" UPLOAD ", width, rows)
}

func (m Model) renderLogsPanel(width int) string {
	start := len(m.logMessages) - 12
	if start < 0 {
		start = 0
	}

	var lines []string
	for _, l := range m.logMessages[start:] {
		level := lipgloss.NewStyle().Foreground(levelColor(l.Level)).Bold(true).Render(fmt.Sprintf("[%-7s]", l.Level))
		msg := l.Message
		if maxLen := width - 25; maxLen > 3 && len(msg) > maxLen {
			msg = msg[:maxLen-3] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s %s %s", logTimeStyle.Render(l.Time.Format("15:04:05")), level, msg))
	}
	if len(lines) == 0 {
		lines = []string{lipgloss.NewStyle().Foreground(dimWhite).Render("No logs yet...")}
	}
	return panel(" LOG ", width, lines)
}

func (m Model) renderSummary() string {
	s := m.summary
	lines := []string{
		statusStyle(string(s.Status)).Render(fmt.Sprintf("Run %s: %d images uploaded", s.Status, s.Uploaded)),
	}
	if s.ProjectID != 0 {
		lines = append(lines,
			row("Project:", fmt.Sprintf("%d %q", s.ProjectID, s.ProjectName)),
			row("Dataset:", fmt.Sprintf("%d %q", s.DatasetID, s.DatasetName)),
		)
	}
	if s.Error != "" {
		lines = append(lines, errorStyle.Render(s.Error))
	}
	return panel(" RESULT ", m.width-2, lines)
}

func (m Model) renderHelp() string {
	help := `
  c        - Cancel the run after the current batch
  q        - Cancel while running, quit when done
  ctrl+l   - Clear the log
  ?        - Toggle this help
`
	return panelStyle.Width(m.width - 2).Render(help)
}

func (m Model) hint() string {
	if m.phase == PhaseDone {
		return "Press q to quit"
	}
	return "Press c to cancel, ? for help"
}

func panel(title string, width int, rows []string) string {
	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), strings.Join(rows, "\n")),
	)
}

func row(label, value string) string {
	return labelStyle.Render(label) + " " + valueStyle.Render(value)
}

// formatClock formats a duration as mm:ss or hh:mm:ss
func formatClock(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
