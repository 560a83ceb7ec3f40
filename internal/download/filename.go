package download

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

const maxTitleFilenameLen = 50

// deriveFilename picks a filename for a download, in order of preference:
// the caller's explicit choice, a sanitized paper title, the trailing
// ".pdf" segment of the source URL, and finally a timestamped fallback.
func deriveFilename(explicit string, metadata *domain.PaperRecord, sourceURL string) string {
	if explicit != "" {
		return explicit
	}
	if metadata != nil && metadata.Title != "" {
		return titleFilename(metadata.Title)
	}
	if name := urlFilename(sourceURL); name != "" {
		return name
	}
	return fmt.Sprintf("paper_%d.pdf", time.Now().Unix())
}

// titleFilename sanitizes a paper title into a filesystem-safe name:
// letters, digits, spaces, and hyphens survive, everything else becomes an
// underscore, whitespace runs collapse to a single underscore, and the
// result is truncated to 50 characters before adding the extension.
func titleFilename(title string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' {
			return r
		}
		return '_'
	}, title)

	joined := strings.Join(strings.Fields(mapped), "_")
	if len(joined) > maxTitleFilenameLen {
		cut := maxTitleFilenameLen
		for cut > 0 && !utf8.RuneStart(joined[cut]) {
			cut--
		}
		joined = joined[:cut]
	}
	return joined + ".pdf"
}

// urlFilename returns the last path segment of the URL when it already
// carries a .pdf extension.
func urlFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	last := path.Base(u.Path)
	if strings.EqualFold(path.Ext(last), ".pdf") {
		return last
	}
	return ""
}
