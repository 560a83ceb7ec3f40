package domain

import (
	"fmt"
	"strings"
)

// SearchType selects how a query string is interpreted by providers.
type SearchType string

const (
	// SearchTypeAuto lets the executor infer the type from the query shape.
	SearchTypeAuto SearchType = "auto"

	// SearchTypeDOI looks up a single paper by DOI.
	SearchTypeDOI SearchType = "doi"

	// SearchTypeTitle searches by paper title.
	SearchTypeTitle SearchType = "title"

	// SearchTypeAuthor searches by author name.
	SearchTypeAuthor SearchType = "author"

	// SearchTypeKeywords searches across all indexed fields.
	SearchTypeKeywords SearchType = "keywords"

	// SearchTypeSubject searches by subject category.
	SearchTypeSubject SearchType = "subject"
)

// ParseSearchType validates a search type string, defaulting empty to auto.
func ParseSearchType(s string) (SearchType, error) {
	switch SearchType(strings.ToLower(strings.TrimSpace(s))) {
	case "", SearchTypeAuto:
		return SearchTypeAuto, nil
	case SearchTypeDOI:
		return SearchTypeDOI, nil
	case SearchTypeTitle:
		return SearchTypeTitle, nil
	case SearchTypeAuthor:
		return SearchTypeAuthor, nil
	case SearchTypeKeywords:
		return SearchTypeKeywords, nil
	case SearchTypeSubject:
		return SearchTypeSubject, nil
	default:
		return "", NewError(KindInvalidInput, "", fmt.Sprintf("unknown search type %q", s))
	}
}

// SearchQuery is a single search request fanned out across providers.
type SearchQuery struct {
	Query      string
	Type       SearchType
	MaxResults int
	Offset     int
	Params     map[string]string
}

// Resolve fills defaults and validates the query. When the type is auto it
// is narrowed by inspecting the query: a parseable DOI searches by DOI,
// everything else searches by keywords.
func (q *SearchQuery) Resolve() error {
	if strings.TrimSpace(q.Query) == "" {
		return NewError(KindInvalidInput, "", "empty query")
	}
	if q.Type == "" {
		q.Type = SearchTypeAuto
	}
	if q.MaxResults == 0 {
		q.MaxResults = 10
	}
	if q.MaxResults < 1 || q.MaxResults > 100 {
		return NewError(KindInvalidInput, "", fmt.Sprintf("max_results must be in [1,100], got %d", q.MaxResults))
	}
	if q.Offset < 0 {
		return NewError(KindInvalidInput, "", "offset must not be negative")
	}
	if q.Type == SearchTypeAuto {
		if doi, err := ParseDOI(q.Query); err == nil {
			q.Query = doi
			q.Type = SearchTypeDOI
		} else {
			q.Type = SearchTypeKeywords
		}
	}
	if q.Type == SearchTypeDOI {
		doi, err := ParseDOI(q.Query)
		if err != nil {
			return err
		}
		q.Query = doi
	}
	return nil
}
