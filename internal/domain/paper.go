package domain

import (
	"strings"
)

// PaperRecord is the unified paper shape returned by every provider.
type PaperRecord struct {
	DOI      string   `json:"doi,omitempty"`
	Title    string   `json:"title,omitempty"`
	Authors  []string `json:"authors"`
	Journal  string   `json:"journal,omitempty"`
	Year     int      `json:"year,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	PDFURL   string   `json:"pdf_url,omitempty"`
	FileSize int64    `json:"file_size,omitempty"`
}

// Valid reports whether the record identifies a paper at all. A record with
// neither a DOI nor a title is useless to callers and is dropped.
func (p *PaperRecord) Valid() bool {
	return strings.TrimSpace(p.DOI) != "" || strings.TrimSpace(p.Title) != ""
}

// NormalizedDOI returns the DOI trimmed of whitespace.
func (p *PaperRecord) NormalizedDOI() string {
	return strings.TrimSpace(p.DOI)
}

// NormalizedTitle returns the title lowercased with all ASCII whitespace
// removed, for exact-match deduplication.
func (p *PaperRecord) NormalizedTitle() string {
	lower := strings.ToLower(p.Title)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, lower)
}

// ParseDOI validates and normalizes a DOI string. It strips a leading "doi:"
// or "https://doi.org/" prefix and requires the remainder to contain a slash
// and start with the "10." registrant prefix.
func ParseDOI(raw string) (string, error) {
	doi := strings.TrimSpace(raw)
	doi = strings.TrimPrefix(doi, "doi:")
	doi = strings.TrimPrefix(doi, "https://doi.org/")
	doi = strings.TrimPrefix(doi, "http://doi.org/")
	doi = strings.TrimSpace(doi)

	if doi == "" {
		return "", NewError(KindInvalidInput, "", "empty DOI")
	}
	if !strings.Contains(doi, "/") {
		return "", NewError(KindInvalidInput, "", "DOI must contain a '/' separator: "+raw)
	}
	if !strings.HasPrefix(doi, "10.") {
		return "", NewError(KindInvalidInput, "", "DOI must start with the 10. registrant prefix: "+raw)
	}
	return doi, nil
}
