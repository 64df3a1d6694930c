package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"pexelsync/internal/downloader"
	"pexelsync/pkg/models"
	"pexelsync/pkg/window"
)

// StartMsg is sent when the run starts
type StartMsg struct {
	RunID   string
	Request models.SearchRequest
	Window  window.Window
}

// PageMsg reports one search page
type PageMsg struct {
	Page     int
	Accepted int
	Err      error
}

// SearchDoneMsg is sent once filtering is done
type SearchDoneMsg struct {
	Accepted int
	Counters models.Counters
}

// BatchStartMsg is sent before a batch is downloaded and uploaded
type BatchStartMsg struct {
	Number int
	Total  int
	Size   int
}

// DownloadMsg reports one finished download
type DownloadMsg struct {
	Result downloader.Result
}

// BatchDoneMsg is sent after a batch upload
type BatchDoneMsg struct {
	Number   int
	Uploaded int
	Err      error
}

// FinishMsg carries the final summary
type FinishMsg struct {
	Summary models.RunSummary
}

// LogMsg is sent to add a log message
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(60, max(10, msg.Width/2-8))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		if m.phase == PhaseDone {
			return m, nil
		}
		return m, tickCmd()

	case StartMsg:
		m.runID = msg.RunID
		m.req = msg.Request
		m.window = msg.Window.String()
		m.pages = len(msg.Window.Pages())
		m.phase = PhaseSearching
		m.startTime = m.now()
		m.AddLogMessage("INFO", fmt.Sprintf("Searching %q: offset %d, count %d", msg.Request.Query, msg.Request.Offset, msg.Request.Count))
		return m, nil

	case PageMsg:
		m.pagesDone++
		m.accepted += msg.Accepted
		if msg.Err != nil {
			m.pageErrors++
			m.AddLogMessage("WARN", fmt.Sprintf("Page %d skipped: %v", msg.Page, msg.Err))
		}
		return m, nil

	case SearchDoneMsg:
		m.accepted = msg.Accepted
		m.counters = msg.Counters
		m.phase = PhaseUploading
		m.AddLogMessage("SUCCESS", fmt.Sprintf("%d images accepted", msg.Accepted))
		return m, nil

	case BatchStartMsg:
		m.batch = msg.Number
		m.batches = msg.Total
		m.AddLogMessage("INFO", fmt.Sprintf("Batch %d/%d: %d images", msg.Number, msg.Total, msg.Size))
		return m, nil

	case DownloadMsg:
		if msg.Result.Success() {
			m.downloaded++
			m.bytes += msg.Result.Size
		} else {
			m.failed++
			m.AddLogMessage("ERROR", fmt.Sprintf("Failed: %s - %v", msg.Result.Job.Record.Name, msg.Result.Error))
		}
		return m, nil

	case BatchDoneMsg:
		m.uploaded += msg.Uploaded
		if msg.Err != nil {
			m.AddLogMessage("ERROR", fmt.Sprintf("Batch %d failed: %v", msg.Number, msg.Err))
		} else {
			m.AddLogMessage("SUCCESS", fmt.Sprintf("Batch %d: %d uploaded", msg.Number, msg.Uploaded))
		}
		return m, nil

	case FinishMsg:
		s := msg.Summary
		m.summary = &s
		m.phase = PhaseDone
		for _, line := range s.Messages() {
			m.AddLogMessage("INFO", line)
		}
		if m.exitOnFinish {
			return m, tea.Quit
		}
		return m, nil

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		if m.phase == PhaseDone {
			return m, tea.Quit
		}
		m.requestCancel()
		return m, nil

	case "c", "C":
		m.requestCancel()
		return m, nil

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.logMessages = nil
		return m, nil
	}

	return m, nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
