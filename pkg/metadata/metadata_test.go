package metadata

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/pexels"
)

var photo = pexels.Photo{
	ID:              2014422,
	URL:             "https://www.pexels.com/photo/brown-rocks-2014422/",
	Photographer:    "Joey Farina",
	PhotographerURL: "https://www.pexels.com/@joey",
	PhotographerID:  680589,
	Alt:             "Brown rocks during golden hour",
}

func TestFieldTable(t *testing.T) {
	assert.Equal(t, []Field{SourceURL, License, PhotographerName}, Required())
	assert.Equal(t, []Field{PhotographerID, PhotographerURL, Description}, Optional())

	assert.Equal(t, "Photographer Pexels ID", PhotographerID.Label())
	assert.Equal(t, "alt", Description.ProviderKey())
	assert.True(t, License.Required())
	assert.False(t, Description.Required())
}

func TestParseField(t *testing.T) {
	f, err := ParseField("image description")
	require.NoError(t, err)
	assert.Equal(t, Description, f)

	f, err = ParseField("photographer_url")
	require.NoError(t, err)
	assert.Equal(t, PhotographerURL, f)

	_, err = ParseField("Camera model")
	assert.Error(t, err)
}

func TestParseFieldsAddsRequired(t *testing.T) {
	got, err := ParseFields([]string{"Image description", "License", "Image description"})
	require.NoError(t, err)
	assert.Equal(t, []Field{SourceURL, License, PhotographerName, Description}, got)

	_, err = ParseFields([]string{"nope"})
	assert.Error(t, err)
}

func TestProject(t *testing.T) {
	got := Project(photo, []Field{License, PhotographerID, Description})

	assert.Equal(t, map[string]string{
		"License":                LicenseValue,
		"Source URL":             photo.URL,
		"Photographer name":      "Joey Farina",
		"Photographer Pexels ID": "680589",
		"Image description":      "Brown rocks during golden hour",
	}, got)
}

func TestProjectRequiredOnly(t *testing.T) {
	got := Project(photo, nil)
	assert.Len(t, got, 3)
	assert.Equal(t, LicenseValue, got["License"])
}

func TestFieldJSON(t *testing.T) {
	data, err := json.Marshal([]Field{SourceURL, Description})
	require.NoError(t, err)
	assert.JSONEq(t, `["Source URL","Image description"]`, string(data))

	var back []Field
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []Field{SourceURL, Description}, back)
}
