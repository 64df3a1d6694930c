package pexels

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultBaseURL is the Pexels API root
	DefaultBaseURL = "https://api.pexels.com/v1"

	// SearchEndpoint is the photo search path under the base URL
	SearchEndpoint = "/search"

	// PageSize is the largest per_page value Pexels accepts
	PageSize = 80

	// MaxResults is the ceiling Pexels applies to total_results
	MaxResults = 8000

	// KeyCheckQuery is the throwaway query used to validate a key
	KeyCheckQuery = "test"
)

// SearchURL builds the search URL for one page. A zero perPage or page is
// left out so the provider defaults apply.
func SearchURL(baseURL, query string, page, perPage int) string {
	params := url.Values{}
	params.Set("query", query)
	if perPage > 0 {
		params.Set("per_page", strconv.Itoa(perPage))
	}
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}

	return fmt.Sprintf("%s%s?%s", strings.TrimRight(baseURL, "/"), SearchEndpoint, params.Encode())
}

// CountMessage renders the user-facing result count line
func CountMessage(total int) string {
	if total == MaxResults {
		return "At least 8000 images were found. Pexels API limits the number of search results to 8000, but it may be more."
	}
	return fmt.Sprintf("Number of images found: %d.", total)
}
