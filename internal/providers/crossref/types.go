package crossref

// searchResponse is the envelope for /works list queries.
type searchResponse struct {
	Status  string        `json:"status"`
	Message searchMessage `json:"message"`
}

type searchMessage struct {
	TotalResults int    `json:"total-results"`
	Items        []Work `json:"items"`
}

// workResponse is the envelope for single /works/{doi} lookups.
type workResponse struct {
	Status  string `json:"status"`
	Message Work   `json:"message"`
}

// Work is a single CrossRef work record.
type Work struct {
	DOI            string       `json:"DOI"`
	Title          []string     `json:"title"`
	Author         []workAuthor `json:"author"`
	ContainerTitle []string     `json:"container-title"`
	Issued         workDate     `json:"issued"`
	Abstract       string       `json:"abstract"`
}

type workAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type workDate struct {
	DateParts [][]int `json:"date-parts"`
}

// Year returns the first year component, or zero when absent.
func (d workDate) Year() int {
	if len(d.DateParts) > 0 && len(d.DateParts[0]) > 0 {
		return d.DateParts[0][0]
	}
	return 0
}
