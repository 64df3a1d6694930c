package pexels

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchURL(t *testing.T) {
	u, err := url.Parse(SearchURL("https://api.pexels.com/v1/", "red cars", 3, PageSize))
	require.NoError(t, err)

	assert.Equal(t, "/v1/search", u.Path)
	assert.Equal(t, "red cars", u.Query().Get("query"))
	assert.Equal(t, "80", u.Query().Get("per_page"))
	assert.Equal(t, "3", u.Query().Get("page"))

	bare, err := url.Parse(SearchURL(DefaultBaseURL, "test", 0, 0))
	require.NoError(t, err)
	assert.False(t, bare.Query().Has("page"))
	assert.False(t, bare.Query().Has("per_page"))
}

func TestCountMessage(t *testing.T) {
	assert.Equal(t, "Number of images found: 0.", CountMessage(0))
	assert.Contains(t, CountMessage(MaxResults), "At least 8000 images were found.")
}
