package models

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"pexelsync/pkg/metadata"
)

// DefaultBatchSize is the number of images sent in one upload call
const DefaultBatchSize = 500

// ImageSize is a provider size variant
type ImageSize string

const (
	SizeOriginal ImageSize = "original"
	SizeLarge2x  ImageSize = "large2x"
	SizeLarge    ImageSize = "large"
	SizeMedium   ImageSize = "medium"
	SizeSmall    ImageSize = "small"
	SizeTiny     ImageSize = "tiny"
)

// ImageSizes lists the selectable variants
var ImageSizes = []ImageSize{SizeOriginal, SizeLarge2x, SizeLarge, SizeMedium, SizeSmall, SizeTiny}

func (s ImageSize) Valid() bool {
	for _, v := range ImageSizes {
		if s == v {
			return true
		}
	}
	return false
}

// UploadMethod selects how images reach the destination
type UploadMethod string

const (
	MethodFiles UploadMethod = "files"
	MethodLinks UploadMethod = "links"
)

func (m UploadMethod) Valid() bool {
	return m == MethodFiles || m == MethodLinks
}

// Description is the help text shown next to the method choice
func (m UploadMethod) Description() string {
	switch m {
	case MethodFiles:
		return "Copy source file to the destination dataset"
	case MethodLinks:
		return "Add link to source image in the destination dataset"
	}
	return ""
}

// SearchRequest describes one run. It is not modified once the run starts.
type SearchRequest struct {
	Query     string           `json:"query"`
	Count     int              `json:"count"`
	Offset    int              `json:"offset"`
	Size      ImageSize        `json:"size"`
	Fields    []metadata.Field `json:"fields"`
	Method    UploadMethod     `json:"method"`
	BatchSize int              `json:"batch_size"`
	Workers   int              `json:"workers"`
}

// NewSearchRequest returns a request with default settings
func NewSearchRequest(query string, count, offset int) SearchRequest {
	return SearchRequest{
		Query:     query,
		Count:     count,
		Offset:    offset,
		Size:      SizeOriginal,
		Fields:    metadata.Required(),
		Method:    MethodFiles,
		BatchSize: DefaultBatchSize,
		Workers:   runtime.NumCPU(),
	}
}

// Validate reports every problem with the request at once
func (r SearchRequest) Validate() error {
	var errs []error

	if strings.TrimSpace(r.Query) == "" {
		errs = append(errs, errors.New("Please, enter the search query."))
	}
	if r.Count < 1 {
		errs = append(errs, fmt.Errorf("image count must be at least 1, got %d", r.Count))
	}
	if r.Offset < 0 {
		errs = append(errs, fmt.Errorf("offset cannot be negative, got %d", r.Offset))
	}
	if !r.Size.Valid() {
		errs = append(errs, fmt.Errorf("invalid image size %q", r.Size))
	}
	if !r.Method.Valid() {
		errs = append(errs, fmt.Errorf("invalid upload method %q", r.Method))
	}
	if r.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", r.BatchSize))
	}
	if r.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", r.Workers))
	}
	for _, f := range r.Fields {
		if !f.Valid() {
			errs = append(errs, fmt.Errorf("unknown metadata field %d", int(f)))
		}
	}

	return errors.Join(errs...)
}

// ImageRecord is an accepted search result on its way to the destination
type ImageRecord struct {
	// Index is the position in the accepted list, kept through downloads
	Index int    `json:"index"`
	Name  string `json:"name"`
	Link  string `json:"link"`
	// LocalPath is set once the file has been downloaded
	LocalPath string            `json:"local_path,omitempty"`
	Meta      map[string]string `json:"meta"`
}

// UploadBatch is one upload call worth of records
type UploadBatch struct {
	Number  int
	Records []ImageRecord
}

// Batches splits records into groups of size. Every batch but the last is
// full.
func Batches(records []ImageRecord, size int) []UploadBatch {
	if size < 1 {
		size = DefaultBatchSize
	}

	var out []UploadBatch
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, UploadBatch{Number: len(out) + 1, Records: records[start:end]})
	}
	return out
}

// Counters tallies filter rejections
type Counters struct {
	BadLinks           int `json:"bad_links"`
	BadExtensions      int `json:"bad_extensions"`
	Duplicates         int `json:"duplicates"`
	ExistingDuplicates int `json:"existing_duplicates"`
}

// Filtered is the number of results rejected as bad, not counting names
// already in the destination
func (c Counters) Filtered() int {
	return c.BadLinks + c.BadExtensions + c.Duplicates
}

// Add merges o into c
func (c *Counters) Add(o Counters) {
	c.BadLinks += o.BadLinks
	c.BadExtensions += o.BadExtensions
	c.Duplicates += o.Duplicates
	c.ExistingDuplicates += o.ExistingDuplicates
}

// RunStatus is the final state of a run
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
	StatusNoImages  RunStatus = "no_images"
	StatusFailed    RunStatus = "failed"
)

// Target says where a run uploads to. Zero IDs mean "create one".
type Target struct {
	WorkspaceID int64  `json:"workspace_id"`
	ProjectID   int64  `json:"project_id"`
	DatasetID   int64  `json:"dataset_id"`
	ProjectName string `json:"project_name"`
	DatasetName string `json:"dataset_name"`
}

// RunSummary is what a run reports and records on the destination project
type RunSummary struct {
	RunID     string       `json:"run_id"`
	Query     string       `json:"query"`
	Offset    int          `json:"offset"`
	Requested int          `json:"requested"`
	Method    UploadMethod `json:"method"`

	Accepted   int       `json:"accepted"`
	Uploaded   int       `json:"uploaded"`
	Counters   Counters  `json:"counters"`
	PageErrors bool      `json:"page_errors"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`

	ProjectID   int64  `json:"project_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
	DatasetID   int64  `json:"dataset_id,omitempty"`
	DatasetName string `json:"dataset_name,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// PageErrorWarning is shown once when any search page failed
const PageErrorWarning = "There was an error, while calling Pexels API. Total number of images can " +
	"be less than specified or it may be no images at all. Please, check data and try again later."

// Message is the main result line
func (s RunSummary) Message() string {
	switch s.Status {
	case StatusNoImages:
		return "No images found for this query."
	case StatusCancelled:
		if s.Uploaded > 0 {
			return fmt.Sprintf("Download was cancelled after uploading %d images.", s.Uploaded)
		}
		return "Download was cancelled. No images were uploaded."
	case StatusFailed:
		if s.Error != "" {
			return "Upload failed: " + s.Error
		}
		return "Upload failed."
	case StatusRunning:
		return fmt.Sprintf("Uploading... %d images so far.", s.Uploaded)
	default:
		return fmt.Sprintf("Successfully uploaded %d images.", s.Uploaded)
	}
}

// FilteredMessage is empty when nothing was filtered
func (s RunSummary) FilteredMessage() string {
	if n := s.Counters.Filtered(); n > 0 {
		return fmt.Sprintf("Images filtered out as bad results: %d.", n)
	}
	return ""
}

// DuplicatesMessage is empty when no result was already in the dataset
func (s RunSummary) DuplicatesMessage() string {
	if n := s.Counters.ExistingDuplicates; n > 0 {
		return fmt.Sprintf("Images filtered out as duplicates in the dataset: %d.", n)
	}
	return ""
}

// PageErrorMessage is empty unless a search page failed
func (s RunSummary) PageErrorMessage() string {
	if s.PageErrors {
		return PageErrorWarning
	}
	return ""
}

// Messages returns every non-empty message in display order
func (s RunSummary) Messages() []string {
	var out []string
	for _, m := range []string{s.PageErrorMessage(), s.Message(), s.FilteredMessage(), s.DuplicatesMessage()} {
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Duration is the wall time of the run
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
