// Package filter decides which search results become upload records.
package filter

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"pexelsync/pkg/metadata"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pexels"
)

// NamePrefix starts every record name
const NamePrefix = "pexels_"

// AllowedExtensions are the image formats the destination accepts
var AllowedExtensions = []string{".jpg", ".jpeg", ".png"}

// Reason says why a result was rejected
type Reason int

const (
	Accepted Reason = iota
	BadLink
	BadExtension
	Duplicate
	ExistingDuplicate
)

func (r Reason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case BadLink:
		return "bad_link"
	case BadExtension:
		return "bad_extension"
	case Duplicate:
		return "duplicate"
	case ExistingDuplicate:
		return "existing_duplicate"
	}
	return "unknown"
}

// Filter accepts results one at a time for a single run. It is not safe for
// concurrent use.
type Filter struct {
	size   string
	fields []metadata.Field

	existing      map[string]bool
	existingStems map[string]bool

	links    map[string]bool
	names    map[string]bool
	records  []models.ImageRecord
	counters models.Counters
}

// New creates a filter for the given size variant and metadata fields.
// existing holds names already in the destination dataset; pass nil when
// the run creates a new dataset.
func New(size models.ImageSize, fields []metadata.Field, existing []string) *Filter {
	f := &Filter{
		size:   string(size),
		fields: fields,
		links:  make(map[string]bool),
		names:  make(map[string]bool),
	}
	if existing != nil {
		f.existing = make(map[string]bool, len(existing))
		f.existingStems = make(map[string]bool, len(existing))
		for _, name := range existing {
			f.existing[name] = true
			f.existingStems[stem(name)] = true
		}
	}
	return f
}

// Accept runs photo through the checks in order and keeps it if all pass
func (f *Filter) Accept(photo pexels.Photo) Reason {
	link := photo.Link(f.size)
	ext, ok := Extension(link)
	if !ok {
		f.counters.BadLinks++
		return BadLink
	}

	if !allowed(ext) {
		f.counters.BadExtensions++
		return BadExtension
	}

	if f.links[link] {
		f.counters.Duplicates++
		return Duplicate
	}

	// one id can come back under two links
	name := NamePrefix + strconv.FormatInt(photo.ID, 10) + ext
	if f.names[name] {
		f.counters.Duplicates++
		return Duplicate
	}

	if f.existing != nil && (f.existing[name] || f.existingStems[stem(name)]) {
		f.counters.ExistingDuplicates++
		return ExistingDuplicate
	}

	f.links[link] = true
	f.names[name] = true
	f.records = append(f.records, models.ImageRecord{
		Index: len(f.records),
		Name:  name,
		Link:  link,
		Meta:  metadata.Project(photo, f.fields),
	})
	return Accepted
}

// Records returns the accepted records in acceptance order
func (f *Filter) Records() []models.ImageRecord {
	return f.records
}

func (f *Filter) Counters() models.Counters {
	return f.counters
}

// Extension returns the file extension of link's path with any query string
// removed. ok is false when link is empty, unparseable or not absolute.
func Extension(link string) (ext string, ok bool) {
	if strings.TrimSpace(link) == "" {
		return "", false
	}
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return path.Ext(u.Path), true
}

func allowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// stem is the name up to its first dot
func stem(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
