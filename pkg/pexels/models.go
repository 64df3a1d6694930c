package pexels

// SearchResponse is one page of the search endpoint
type SearchResponse struct {
	TotalResults int     `json:"total_results"`
	Page         int     `json:"page"`
	PerPage      int     `json:"per_page"`
	Photos       []Photo `json:"photos"`
	NextPage     string  `json:"next_page,omitempty"`
}

// Photo is a single search result
type Photo struct {
	ID              int64  `json:"id"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	URL             string `json:"url"`
	Photographer    string `json:"photographer"`
	PhotographerURL string `json:"photographer_url"`
	PhotographerID  int64  `json:"photographer_id"`
	AvgColor        string `json:"avg_color"`
	Alt             string `json:"alt"`
	// Src maps a size variant (original, large2x, ..., tiny) to its URL
	Src map[string]string `json:"src"`
}

// Link returns the URL of one size variant, or "" when the photo has none
func (p Photo) Link(size string) string {
	if p.Src == nil {
		return ""
	}
	return p.Src[size]
}

// CountResult is the outcome of a result count lookup
type CountResult struct {
	Query string `json:"query"`
	Total int    `json:"total"`
	// Capped is set when the provider ceiling was hit and more may exist
	Capped bool `json:"capped"`
	// RateRemaining is -1 when the provider sent no quota header
	RateRemaining int    `json:"rate_remaining"`
	Message       string `json:"message"`
}
