package pipeline

import (
	"pexelsync/internal/downloader"
	"pexelsync/pkg/models"
	"pexelsync/pkg/window"
)

// Observer receives run progress. The runner calls it from a single
// goroutine, in order; implementations that share state with other
// goroutines must lock themselves.
type Observer interface {
	OnStart(runID string, req models.SearchRequest, w window.Window)
	// OnPage reports one search page; err is set when the page was skipped
	OnPage(page, accepted int, err error)
	OnSearchDone(accepted int, counters models.Counters)
	OnBatchStart(number, total, size int)
	OnDownload(result downloader.Result)
	OnBatchDone(number, uploaded int, err error)
	OnFinish(summary models.RunSummary)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) OnStart(string, models.SearchRequest, window.Window) {}
func (NopObserver) OnPage(int, int, error)                              {}
func (NopObserver) OnSearchDone(int, models.Counters)                   {}
func (NopObserver) OnBatchStart(int, int, int)                          {}
func (NopObserver) OnDownload(downloader.Result)                        {}
func (NopObserver) OnBatchDone(int, int, error)                         {}
func (NopObserver) OnFinish(models.RunSummary)                          {}

// MultiObserver fans events out to several observers
type MultiObserver []Observer

func (m MultiObserver) OnStart(runID string, req models.SearchRequest, w window.Window) {
	for _, o := range m {
		o.OnStart(runID, req, w)
	}
}

func (m MultiObserver) OnPage(page, accepted int, err error) {
	for _, o := range m {
		o.OnPage(page, accepted, err)
	}
}

func (m MultiObserver) OnSearchDone(accepted int, counters models.Counters) {
	for _, o := range m {
		o.OnSearchDone(accepted, counters)
	}
}

func (m MultiObserver) OnBatchStart(number, total, size int) {
	for _, o := range m {
		o.OnBatchStart(number, total, size)
	}
}

func (m MultiObserver) OnDownload(result downloader.Result) {
	for _, o := range m {
		o.OnDownload(result)
	}
}

func (m MultiObserver) OnBatchDone(number, uploaded int, err error) {
	for _, o := range m {
		o.OnBatchDone(number, uploaded, err)
	}
}

func (m MultiObserver) OnFinish(summary models.RunSummary) {
	for _, o := range m {
		o.OnFinish(summary)
	}
}
