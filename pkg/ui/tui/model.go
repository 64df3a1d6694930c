package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"pexelsync/pkg/models"
)

// Phase is the stage a run is in
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseSearching
	PhaseUploading
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseSearching:
		return "searching"
	case PhaseUploading:
		return "uploading"
	case PhaseDone:
		return "done"
	default:
		return "starting"
	}
}

// LogMessage represents a log entry
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
}

// Model is the run dashboard. It is only touched from the bubbletea
// event loop.
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	cancel          func()
	cancelRequested bool
	exitOnFinish    bool

	runID  string
	req    models.SearchRequest
	window string
	phase  Phase

	pages      int
	pagesDone  int
	pageErrors int
	accepted   int
	counters   models.Counters

	batches    int
	batch      int
	uploaded   int
	downloaded int
	failed     int
	bytes      int64

	summary   *models.RunSummary
	startTime time.Time
	now       func() time.Time

	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int
}

// NewModel creates a dashboard. cancel is called once when the user asks
// to stop the run.
func NewModel(cancel func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = labelStyle

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	return Model{
		spinner:        s,
		progress:       p,
		cancel:         cancel,
		now:            time.Now,
		startTime:      time.Now(),
		maxLogMessages: 50,
	}
}

// Init starts the spinner
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

// AddLogMessage appends a log line, keeping the last maxLogMessages
func (m *Model) AddLogMessage(level, message string) {
	m.logMessages = append(m.logMessages, LogMessage{
		Time:    m.now(),
		Level:   level,
		Message: message,
	})
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// requestCancel stops the run at its next page or batch boundary
func (m *Model) requestCancel() {
	if m.cancelRequested || m.phase == PhaseDone {
		return
	}
	m.cancelRequested = true
	if m.cancel != nil {
		m.cancel()
	}
	m.AddLogMessage("WARN", "Cancelling: the current batch will finish first")
}

// Percent is the completion of the current phase
func (m Model) Percent() float64 {
	switch m.phase {
	case PhaseSearching:
		if m.pages == 0 {
			return 0
		}
		return float64(m.pagesDone) / float64(m.pages)
	case PhaseUploading:
		if m.accepted == 0 {
			return 0
		}
		return float64(m.uploaded) / float64(m.accepted)
	case PhaseDone:
		return 1
	}
	return 0
}

// Summary returns the final summary once the run finished
func (m Model) Summary() (models.RunSummary, bool) {
	if m.summary == nil {
		return models.RunSummary{}, false
	}
	return *m.summary, true
}

func (m Model) elapsed() time.Duration {
	if m.summary != nil {
		return m.summary.Duration()
	}
	return m.now().Sub(m.startTime)
}
