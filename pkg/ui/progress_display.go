package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"pexelsync/internal/downloader"
	"pexelsync/pkg/models"
	"pexelsync/pkg/window"
)

// ProgressDisplay renders a run as one rewritten status line, or as one
// line per event in debug mode. It satisfies pipeline.Observer.
type ProgressDisplay struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
	color Palette
	now   func() time.Time

	query      string
	method     models.UploadMethod
	pages      int
	pagesDone  int
	accepted   int
	batches    int
	batch      int
	uploaded   int
	downloaded int
	failed     int
	bytes      int64
	startTime  time.Time
}

// NewProgressDisplay creates a display writing to out
func NewProgressDisplay(out io.Writer, debug bool) *ProgressDisplay {
	return &ProgressDisplay{out: out, debug: debug, color: PaletteFor(out), now: time.Now}
}

func (p *ProgressDisplay) OnStart(runID string, req models.SearchRequest, w window.Window) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.query = req.Query
	p.method = req.Method
	p.pages = len(w.Pages())
	p.startTime = p.now()

	fmt.Fprintf(p.out, "%s %q • offset %d • count %d • %s\n",
		p.color.Cyan("Searching"), req.Query, req.Offset, req.Count, p.color.Dim("run "+runID))
	if p.debug {
		fmt.Fprintf(p.out, "%s window %s\n", p.color.Magenta("→"), w.String())
	}
}

func (p *ProgressDisplay) OnPage(page, accepted int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pagesDone++
	p.accepted += accepted

	if p.debug {
		if err != nil {
			fmt.Fprintf(p.out, "%s page %d skipped: %v\n", p.color.Red("✗"), page, err)
		} else {
			fmt.Fprintf(p.out, "%s page %d: %d accepted\n", p.color.Magenta("→"), page, accepted)
		}
		return
	}
	p.printLine(fmt.Sprintf("%s [%s] page %d/%d • %d images",
		p.color.Cyan("search"), Bar(p.pagesDone, p.pages, 20), p.pagesDone, p.pages, p.accepted))
}

func (p *ProgressDisplay) OnSearchDone(accepted int, counters models.Counters) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accepted = accepted
	fmt.Fprintf(p.out, "\n%s %d images accepted", p.color.Green("✓"), accepted)
	if n := counters.Filtered(); n > 0 {
		fmt.Fprintf(p.out, " • %s", p.color.Dim(fmt.Sprintf("%d filtered", n)))
	}
	if counters.ExistingDuplicates > 0 {
		fmt.Fprintf(p.out, " • %s", p.color.Dim(fmt.Sprintf("%d already in dataset", counters.ExistingDuplicates)))
	}
	fmt.Fprintln(p.out)
}

func (p *ProgressDisplay) OnBatchStart(number, total, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batch = number
	p.batches = total
	if p.debug {
		fmt.Fprintf(p.out, "%s batch %d/%d (%d images)\n", p.color.Magenta("→"), number, total, size)
		return
	}
	p.printUpload()
}

func (p *ProgressDisplay) OnDownload(res downloader.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if res.Success() {
		p.downloaded++
		p.bytes += res.Size
	} else {
		p.failed++
	}

	if p.debug {
		if res.Success() {
			fmt.Fprintf(p.out, "%s %s • %s\n", p.color.Green("✓"), res.Job.Record.Name, FormatBytes(res.Size))
		} else {
			fmt.Fprintf(p.out, "%s %s • %v\n", p.color.Red("✗"), res.Job.Record.Name, res.Error)
		}
		return
	}
	p.printUpload()
}

func (p *ProgressDisplay) OnBatchDone(number, uploaded int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.uploaded += uploaded
	if err != nil {
		fmt.Fprintf(p.out, "\n%s batch %d failed: %v\n", p.color.Red("✗"), number, err)
		return
	}
	if p.debug {
		fmt.Fprintf(p.out, "%s batch %d: %d uploaded\n", p.color.Green("✓"), number, uploaded)
		return
	}
	p.printUpload()
}

func (p *ProgressDisplay) OnFinish(s models.RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := s.Duration()
	fmt.Fprintln(p.out)

	switch s.Status {
	case models.StatusCompleted:
		fmt.Fprintf(p.out, "%s Uploaded %d images for %q\n", p.color.Green("✓"), s.Uploaded, s.Query)
	case models.StatusCancelled:
		fmt.Fprintf(p.out, "%s Cancelled after %d images\n", p.color.Yellow("⚠"), s.Uploaded)
	case models.StatusNoImages:
		fmt.Fprintf(p.out, "%s No images found for %q\n", p.color.Yellow("⚠"), s.Query)
	default:
		fmt.Fprintf(p.out, "%s Run failed: %s\n", p.color.Red("✗"), s.Error)
	}

	if s.ProjectID != 0 {
		fmt.Fprintf(p.out, "  %s project %d %q • dataset %d %q\n",
			p.color.Dim("•"), s.ProjectID, s.ProjectName, s.DatasetID, s.DatasetName)
	}
	fmt.Fprintf(p.out, "  %s %s", p.color.Dim("•"), FormatDuration(elapsed))
	if p.bytes > 0 {
		fmt.Fprintf(p.out, " • %s downloaded", FormatBytes(p.bytes))
	}
	if p.failed > 0 {
		fmt.Fprintf(p.out, " • %s", p.color.Red(fmt.Sprintf("%d downloads failed", p.failed)))
	}
	fmt.Fprintln(p.out)

	for _, msg := range s.Messages() {
		fmt.Fprintf(p.out, "  %s %s\n", p.color.Dim("•"), msg)
	}
}

func (p *ProgressDisplay) printUpload() {
	line := fmt.Sprintf("%s [%s] %d/%d • batch %d/%d",
		p.color.Cyan("upload"), Bar(p.uploaded, p.accepted, 20), p.uploaded, p.accepted, p.batch, p.batches)

	if p.method == models.MethodFiles {
		line += fmt.Sprintf(" • %s", FormatBytes(p.bytes))
		if elapsed := p.now().Sub(p.startTime); elapsed > 0 {
			line += fmt.Sprintf(" • %.1f/min", float64(p.downloaded)/elapsed.Minutes())
		}
	}
	if p.failed > 0 {
		line += fmt.Sprintf(" • %s", p.color.Red(fmt.Sprintf("%d errors", p.failed)))
	}
	p.printLine(line)
}

func (p *ProgressDisplay) printLine(line string) {
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
}
