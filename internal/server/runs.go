package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"pexelsync/internal/downloader"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pipeline"
	"pexelsync/pkg/window"
)

var (
	errRunNotFound = errors.New("run not found")
	errRunFinished = errors.New("run already finished")
)

// Progress counts what a running run has done so far
type Progress struct {
	Pages          int `json:"pages"`
	PagesDone      int `json:"pages_done"`
	PageErrors     int `json:"page_errors"`
	Accepted       int `json:"accepted"`
	Batches        int `json:"batches"`
	BatchesDone    int `json:"batches_done"`
	Uploaded       int `json:"uploaded"`
	Downloaded     int `json:"downloaded"`
	DownloadErrors int `json:"download_errors"`
}

// RunState is the API view of a run
type RunState struct {
	ID              string               `json:"id"`
	Request         models.SearchRequest `json:"request"`
	Target          models.Target        `json:"target"`
	Status          models.RunStatus     `json:"status"`
	CancelRequested bool                 `json:"cancel_requested"`
	Progress        Progress             `json:"progress"`
	Summary         *models.RunSummary   `json:"summary,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

type runEntry struct {
	state  RunState
	cancel context.CancelFunc
	done   chan struct{}
}

// registry tracks the runs started through the API
type registry struct {
	mu   sync.RWMutex
	runs map[string]*runEntry
	wg   sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*runEntry)}
}

func (r *registry) add(state RunState, cancel context.CancelFunc) *runEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &runEntry{state: state, cancel: cancel, done: make(chan struct{})}
	r.runs[state.ID] = e
	r.wg.Add(1)
	return e
}

func (r *registry) get(id string) (RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.runs[id]
	if !ok {
		return RunState{}, false
	}
	return e.state, true
}

// list returns every run, newest first
func (r *registry) list() []RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RunState, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e.state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *registry) update(id string, fn func(*RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.runs[id]; ok {
		fn(&e.state)
	}
}

func (r *registry) cancel(id string) (RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[id]
	if !ok {
		return RunState{}, errRunNotFound
	}
	if e.state.Status != models.StatusRunning {
		return e.state, errRunFinished
	}
	e.state.CancelRequested = true
	e.cancel()
	return e.state, nil
}

func (r *registry) finish(id string, s models.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.runs[id]
	if !ok {
		return
	}
	e.state.Status = s.Status
	e.state.Summary = &s
	e.cancel()
	close(e.done)
	r.wg.Done()
}

// cancelAll stops every running run at its next boundary
func (r *registry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.runs {
		if e.state.Status == models.StatusRunning {
			e.state.CancelRequested = true
			e.cancel()
		}
	}
}

// wait blocks until every run finished or ctx is done
func (r *registry) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runObserver keeps a run's state current and publishes its events
type runObserver struct {
	id  string
	reg *registry
	hub *Hub
	now func() time.Time
}

var _ pipeline.Observer = (*runObserver)(nil)

func (o *runObserver) publish(kind string, data interface{}) {
	o.hub.Publish(Event{RunID: o.id, Type: kind, Time: o.now(), Data: data})
}

func (o *runObserver) OnStart(_ string, req models.SearchRequest, w window.Window) {
	o.reg.update(o.id, func(s *RunState) { s.Progress.Pages = len(w.Pages()) })
	o.publish("start", map[string]interface{}{"query": req.Query, "window": w.String()})
}

func (o *runObserver) OnPage(page, accepted int, err error) {
	o.reg.update(o.id, func(s *RunState) {
		s.Progress.PagesDone++
		s.Progress.Accepted += accepted
		if err != nil {
			s.Progress.PageErrors++
		}
	})
	data := map[string]interface{}{"page": page, "accepted": accepted}
	if err != nil {
		data["error"] = err.Error()
	}
	o.publish("page", data)
}

func (o *runObserver) OnSearchDone(accepted int, counters models.Counters) {
	o.reg.update(o.id, func(s *RunState) { s.Progress.Accepted = accepted })
	o.publish("search_done", map[string]interface{}{"accepted": accepted, "counters": counters})
}

func (o *runObserver) OnBatchStart(number, total, size int) {
	o.reg.update(o.id, func(s *RunState) { s.Progress.Batches = total })
	o.publish("batch_start", map[string]interface{}{"batch": number, "batches": total, "size": size})
}

func (o *runObserver) OnDownload(res downloader.Result) {
	o.reg.update(o.id, func(s *RunState) {
		if res.Success() {
			s.Progress.Downloaded++
		} else {
			s.Progress.DownloadErrors++
		}
	})
}

func (o *runObserver) OnBatchDone(number, uploaded int, err error) {
	o.reg.update(o.id, func(s *RunState) {
		s.Progress.BatchesDone++
		s.Progress.Uploaded += uploaded
	})
	data := map[string]interface{}{"batch": number, "uploaded": uploaded}
	if err != nil {
		data["error"] = err.Error()
	}
	o.publish("batch_done", data)
}

func (o *runObserver) OnFinish(s models.RunSummary) {
	o.publish("finish", s)
}
