package filter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/metadata"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pexels"
)

func photo(id int64, link string) pexels.Photo {
	return pexels.Photo{
		ID:           id,
		URL:          fmt.Sprintf("https://www.pexels.com/photo/%d/", id),
		Photographer: "Someone",
		Src:          map[string]string{"original": link, "tiny": link + "&w=280"},
	}
}

func jpeg(id int64) pexels.Photo {
	return photo(id, fmt.Sprintf("https://images.pexels.com/photos/%d/pexels-photo-%d.jpeg?auto=compress&cs=tinysrgb", id, id))
}

func TestExtension(t *testing.T) {
	tests := []struct {
		link string
		ext  string
		ok   bool
	}{
		{"https://images.pexels.com/photos/1/photo.jpg?cs=tinysrgb", ".jpg", true},
		{"https://images.pexels.com/photos/1/photo.gif?cs=tinysrgb", ".gif", true},
		{"https://images.pexels.com/photos/1/photo", "", true},
		{"", "", false},
		{"not a url", "", false},
		{"://broken", "", false},
	}
	for _, tt := range tests {
		ext, ok := Extension(tt.link)
		assert.Equal(t, tt.ok, ok, tt.link)
		assert.Equal(t, tt.ext, ext, tt.link)
	}
}

func TestDecisionOrder(t *testing.T) {
	f := New(models.SizeOriginal, metadata.Required(), []string{"pexels_50.jpeg", "pexels_60.png"})

	assert.Equal(t, Accepted, f.Accept(jpeg(1)))
	assert.Equal(t, BadLink, f.Accept(pexels.Photo{ID: 2}))
	assert.Equal(t, BadLink, f.Accept(photo(3, "")))
	assert.Equal(t, BadExtension, f.Accept(photo(4, "https://images.pexels.com/photos/4/a.gif?x=1")))
	assert.Equal(t, BadExtension, f.Accept(photo(5, "https://images.pexels.com/photos/5/noext")))
	assert.Equal(t, Duplicate, f.Accept(jpeg(1)))
	// same link under another id is still a duplicate
	dup := jpeg(1)
	dup.ID = 99
	assert.Equal(t, Duplicate, f.Accept(dup))
	assert.Equal(t, ExistingDuplicate, f.Accept(jpeg(50)))
	// existing pexels_60.png matches pexels_60.jpeg by stem
	assert.Equal(t, ExistingDuplicate, f.Accept(jpeg(60)))

	assert.Equal(t, models.Counters{BadLinks: 2, BadExtensions: 2, Duplicates: 2, ExistingDuplicates: 2}, f.Counters())
	require.Len(t, f.Records(), 1)
	assert.Equal(t, "pexels_1.jpeg", f.Records()[0].Name)
}

func TestSameIDUnderAnotherLink(t *testing.T) {
	tests := []struct {
		name   string
		second string
		want   Reason
	}{
		{"query string differs", "https://images.pexels.com/photos/7/pexels-photo-7.jpeg?cs=srgb", Duplicate},
		{"path differs", "https://images.pexels.com/photos/7/other.jpeg", Duplicate},
		{"extension differs", "https://images.pexels.com/photos/7/pexels-photo-7.png", Accepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(models.SizeOriginal, nil, nil)
			require.Equal(t, Accepted, f.Accept(photo(7, "https://images.pexels.com/photos/7/pexels-photo-7.jpeg")))
			assert.Equal(t, tt.want, f.Accept(photo(7, tt.second)))

			names := map[string]bool{}
			for _, r := range f.Records() {
				assert.False(t, names[r.Name], "name %s accepted twice", r.Name)
				names[r.Name] = true
			}
			if tt.want == Duplicate {
				assert.Equal(t, 1, f.Counters().Duplicates)
			}
		})
	}
}

func TestExistingNamesOnlyApplyWhenGiven(t *testing.T) {
	f := New(models.SizeOriginal, nil, nil)
	assert.Equal(t, Accepted, f.Accept(jpeg(50)))
}

func TestAcceptedRecordShape(t *testing.T) {
	f := New(models.SizeTiny, []metadata.Field{metadata.Description}, nil)
	p := jpeg(7)
	p.Alt = "A cat"
	require.Equal(t, Accepted, f.Accept(p))

	rec := f.Records()[0]
	assert.Equal(t, 0, rec.Index)
	assert.Equal(t, "pexels_7.jpeg", rec.Name)
	assert.Equal(t, p.Src["tiny"], rec.Link)
	assert.Equal(t, "Pexels license", rec.Meta["License"])
	assert.Equal(t, "A cat", rec.Meta["Image description"])
}

func TestUppercaseExtensionAccepted(t *testing.T) {
	f := New(models.SizeOriginal, nil, nil)
	assert.Equal(t, Accepted, f.Accept(photo(8, "https://images.pexels.com/photos/8/IMG.JPG")))
	assert.Equal(t, Accepted, f.Accept(photo(9, "https://images.pexels.com/photos/9/IMG.PnG?w=10")))
	assert.Equal(t, BadExtension, f.Accept(photo(10, "https://images.pexels.com/photos/10/IMG.GIF")))

	require.Len(t, f.Records(), 2)
	assert.Equal(t, "pexels_8.JPG", f.Records()[0].Name)
	assert.Equal(t, "pexels_9.PnG", f.Records()[1].Name)
}

func TestRecordsStayParallelAndUnique(t *testing.T) {
	f := New(models.SizeOriginal, metadata.All(), nil)
	for i := 0; i < 200; i++ {
		f.Accept(jpeg(int64(i % 150)))
		if i%7 == 0 {
			f.Accept(photo(int64(1000+i), "https://images.pexels.com/x.webp"))
		}
	}

	recs := f.Records()
	names := map[string]bool{}
	links := map[string]bool{}
	for i, r := range recs {
		assert.Equal(t, i, r.Index)
		assert.NotNil(t, r.Meta)
		names[r.Name] = true
		links[r.Link] = true
	}
	assert.Len(t, recs, 150)
	assert.Len(t, names, len(recs))
	assert.Len(t, links, len(recs))
}

func TestRefilteringIsIdentity(t *testing.T) {
	first := New(models.SizeOriginal, nil, nil)
	var photos []pexels.Photo
	for i := 0; i < 30; i++ {
		photos = append(photos, jpeg(int64(i%20)))
	}
	photos = append(photos, pexels.Photo{ID: 500})
	for _, p := range photos {
		first.Accept(p)
	}

	second := New(models.SizeOriginal, nil, nil)
	for _, r := range first.Records() {
		id := int64(0)
		fmt.Sscanf(r.Name, "pexels_%d", &id)
		second.Accept(photo(id, r.Link))
	}

	assert.Equal(t, models.Counters{}, second.Counters())
	require.Len(t, second.Records(), len(first.Records()))
	for i := range first.Records() {
		assert.Equal(t, first.Records()[i].Name, second.Records()[i].Name)
		assert.Equal(t, first.Records()[i].Link, second.Records()[i].Link)
	}
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "bad_extension", BadExtension.String())
	assert.Equal(t, "existing_duplicate", ExistingDuplicate.String())
}
