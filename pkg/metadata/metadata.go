// Package metadata projects provider photo attributes onto the labelled
// fields stored with each uploaded image.
package metadata

import (
	"fmt"
	"strconv"
	"strings"

	"pexelsync/pkg/pexels"
)

// LicenseValue is written for every image regardless of provider data
const LicenseValue = "Pexels license"

// Field is one known metadata field
type Field int

const (
	SourceURL Field = iota
	License
	PhotographerName
	PhotographerID
	PhotographerURL
	Description
)

type fieldInfo struct {
	label       string
	providerKey string
	required    bool
}

var fields = [...]fieldInfo{
	SourceURL:        {"Source URL", "url", true},
	License:          {"License", "license", true},
	PhotographerName: {"Photographer name", "photographer", true},
	PhotographerID:   {"Photographer Pexels ID", "photographer_id", false},
	PhotographerURL:  {"Photographer URL", "photographer_url", false},
	Description:      {"Image description", "alt", false},
}

// All lists every field in display order
func All() []Field {
	out := make([]Field, len(fields))
	for i := range fields {
		out[i] = Field(i)
	}
	return out
}

// Required lists the fields that are always stored
func Required() []Field {
	return filter(true)
}

// Optional lists the fields a caller may toggle
func Optional() []Field {
	return filter(false)
}

func filter(required bool) []Field {
	var out []Field
	for _, f := range All() {
		if fields[f].required == required {
			out = append(out, f)
		}
	}
	return out
}

// Valid reports whether f is one of the known fields
func (f Field) Valid() bool { return f >= 0 && int(f) < len(fields) }

// Label is the key under which the value is stored
func (f Field) Label() string {
	if !f.Valid() {
		return fmt.Sprintf("Field(%d)", int(f))
	}
	return fields[f].label
}

// ProviderKey is the name of the attribute in the provider response
func (f Field) ProviderKey() string {
	if !f.Valid() {
		return ""
	}
	return fields[f].providerKey
}

func (f Field) Required() bool {
	return f.Valid() && fields[f].required
}

func (f Field) String() string { return f.Label() }

// MarshalText lets fields appear by label in YAML and JSON
func (f Field) MarshalText() ([]byte, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("unknown metadata field %d", int(f))
	}
	return []byte(f.Label()), nil
}

func (f *Field) UnmarshalText(text []byte) error {
	parsed, err := ParseField(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseField resolves a label (case-insensitive) or a provider key
func ParseField(s string) (Field, error) {
	s = strings.TrimSpace(s)
	for _, f := range All() {
		if strings.EqualFold(fields[f].label, s) || fields[f].providerKey == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown metadata field %q", s)
}

// ParseFields resolves labels and merges in the required fields, keeping
// display order and dropping repeats
func ParseFields(labels []string) ([]Field, error) {
	seen := make(map[Field]bool)
	for _, f := range Required() {
		seen[f] = true
	}
	for _, l := range labels {
		f, err := ParseField(l)
		if err != nil {
			return nil, err
		}
		seen[f] = true
	}

	var out []Field
	for _, f := range All() {
		if seen[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

// Project builds the label to value map for photo. License is always set to
// LicenseValue and the required fields are always present.
func Project(photo pexels.Photo, requested []Field) map[string]string {
	out := map[string]string{License.Label(): LicenseValue}

	for _, f := range Required() {
		if f != License {
			out[f.Label()] = value(photo, f)
		}
	}
	for _, f := range requested {
		if f == License || !f.Valid() {
			continue
		}
		out[f.Label()] = value(photo, f)
	}
	return out
}

func value(p pexels.Photo, f Field) string {
	switch f {
	case SourceURL:
		return p.URL
	case PhotographerName:
		return p.Photographer
	case PhotographerID:
		if p.PhotographerID == 0 {
			return ""
		}
		return strconv.FormatInt(p.PhotographerID, 10)
	case PhotographerURL:
		return p.PhotographerURL
	case Description:
		return p.Alt
	case License:
		return LicenseValue
	}
	return ""
}
