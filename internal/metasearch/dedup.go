package metasearch

import (
	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// Deduplicate drops records that repeat an earlier record's identity. Two
// passes: records sharing a non-empty DOI are duplicates, and records
// sharing a normalized title (lowercased, ASCII whitespace stripped) are
// duplicates. The first occurrence wins, so with priority-ordered input the
// highest-priority provider's version survives.
func Deduplicate(records []domain.PaperRecord) []domain.PaperRecord {
	seenDOI := make(map[string]int, len(records))
	seenTitle := make(map[string]int, len(records))
	out := make([]domain.PaperRecord, 0, len(records))

	for i := range records {
		rec := records[i]
		doi := rec.NormalizedDOI()
		title := rec.NormalizedTitle()

		if doi != "" {
			if idx, dup := seenDOI[doi]; dup {
				mergePDFURL(&out[idx], rec)
				continue
			}
		}
		if title != "" {
			if idx, dup := seenTitle[title]; dup {
				mergePDFURL(&out[idx], rec)
				continue
			}
		}

		out = append(out, rec)
		if doi != "" {
			seenDOI[doi] = len(out) - 1
		}
		if title != "" {
			seenTitle[title] = len(out) - 1
		}
	}
	return out
}

// validRecords drops records carrying neither a DOI nor a title. A scraped
// page can yield a PDF link without either, and such a record cannot be
// attributed or deduplicated.
func validRecords(records []domain.PaperRecord) []domain.PaperRecord {
	out := make([]domain.PaperRecord, 0, len(records))
	for i := range records {
		if records[i].Valid() {
			out = append(out, records[i])
		}
	}
	return out
}

// mergePDFURL keeps a dropped duplicate's PDF URL when the surviving record
// has none: a metadata-only provider may win on priority while a fulltext
// provider saw the same paper.
func mergePDFURL(kept *domain.PaperRecord, dropped domain.PaperRecord) {
	if kept.PDFURL == "" && dropped.PDFURL != "" {
		kept.PDFURL = dropped.PDFURL
	}
}
