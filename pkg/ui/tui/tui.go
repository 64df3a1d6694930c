package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"pexelsync/internal/downloader"
	"pexelsync/pkg/models"
	"pexelsync/pkg/window"
)

// TUI runs the dashboard program and feeds it pipeline events. It
// satisfies pipeline.Observer; events are forwarded as messages so the
// run goroutine never touches the model.
type TUI struct {
	program *tea.Program
	model   *Model
}

// Option configures the TUI
type Option func(*TUI)

// WithExitOnFinish quits the program as soon as the run ends
func WithExitOnFinish() Option {
	return func(t *TUI) { t.model.exitOnFinish = true }
}

// WithProgramOptions passes options through to bubbletea
func WithProgramOptions(opts ...tea.ProgramOption) Option {
	return func(t *TUI) {
		t.program = tea.NewProgram(t.model, opts...)
	}
}

// New creates a TUI. cancel is called when the user asks to stop.
func New(cancel func(), opts ...Option) *TUI {
	model := NewModel(cancel)
	t := &TUI{model: &model}
	for _, opt := range opts {
		opt(t)
	}
	if t.program == nil {
		t.program = tea.NewProgram(t.model, tea.WithAltScreen())
	}
	return t
}

// Run blocks until the user quits
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Stop stops the TUI gracefully
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send sends a message to the TUI
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

func (t *TUI) OnStart(runID string, req models.SearchRequest, w window.Window) {
	t.Send(StartMsg{RunID: runID, Request: req, Window: w})
}

func (t *TUI) OnPage(page, accepted int, err error) {
	t.Send(PageMsg{Page: page, Accepted: accepted, Err: err})
}

func (t *TUI) OnSearchDone(accepted int, counters models.Counters) {
	t.Send(SearchDoneMsg{Accepted: accepted, Counters: counters})
}

func (t *TUI) OnBatchStart(number, total, size int) {
	t.Send(BatchStartMsg{Number: number, Total: total, Size: size})
}

func (t *TUI) OnDownload(res downloader.Result) {
	t.Send(DownloadMsg{Result: res})
}

func (t *TUI) OnBatchDone(number, uploaded int, err error) {
	t.Send(BatchDoneMsg{Number: number, Uploaded: uploaded, Err: err})
}

func (t *TUI) OnFinish(s models.RunSummary) {
	t.Send(FinishMsg{Summary: s})
}

// LogInfo logs an info message
func (t *TUI) LogInfo(message string) {
	t.Send(LogMsg{Level: "INFO", Message: message})
}

// LogError logs an error message
func (t *TUI) LogError(message string) {
	t.Send(LogMsg{Level: "ERROR", Message: message})
}
