// Package download streams PDFs to disk with resume support, progress
// reporting, and optional SHA-256 integrity verification.
package download

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/helixir/paper-retrieval-service/internal/domain"
)

// Status is the lifecycle state of a download.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"

	// StatusPaused is kept for wire compatibility with older clients.
	// The downloader never produces it; cancellation is the only way to
	// stop a transfer, and resume picks up the partial file.
	StatusPaused Status = "paused"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Input describes one requested download. Exactly one of DOI and URL must
// be set: a DOI is resolved to a PDF URL through the provider cascade, a
// URL is fetched as-is.
type Input struct {
	DOI             string `json:"doi,omitempty"`
	URL             string `json:"url,omitempty"`
	Filename        string `json:"filename,omitempty"`
	Directory       string `json:"directory,omitempty"`
	Overwrite       bool   `json:"overwrite,omitempty"`
	VerifyIntegrity bool   `json:"verify_integrity"`
}

// Validate checks the input before any network or filesystem work.
func (in *Input) Validate() error {
	hasDOI := strings.TrimSpace(in.DOI) != ""
	hasURL := strings.TrimSpace(in.URL) != ""

	if hasDOI == hasURL {
		return domain.NewError(domain.KindInvalidInput, "download",
			"exactly one of doi and url must be provided")
	}
	if hasDOI {
		if _, err := domain.ParseDOI(in.DOI); err != nil && !looksLikeArxivID(in.DOI) {
			return err
		}
	}
	if hasURL {
		u, err := url.Parse(in.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return domain.NewError(domain.KindInvalidInput, "download",
				fmt.Sprintf("invalid url %q", in.URL))
		}
	}
	if in.Filename != "" {
		if strings.Contains(in.Filename, "..") ||
			strings.ContainsAny(in.Filename, `/\`) {
			return domain.NewError(domain.KindInvalidInput, "download",
				fmt.Sprintf("filename %q must not contain path separators", in.Filename))
		}
	}
	return nil
}

// looksLikeArxivID accepts arXiv identifiers in place of a DOI, matching
// what the search providers return for arXiv records.
func looksLikeArxivID(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(strings.ToLower(s), "arxiv:") && len(s) > len("arxiv:")
}

// Progress is a point-in-time snapshot of a running download.
type Progress struct {
	ID              string `json:"id"`
	Status          Status `json:"status"`
	FilePath        string `json:"file_path"`
	BytesDownloaded int64  `json:"bytes_downloaded"`
	// TotalBytes is zero when the upstream did not report a length.
	TotalBytes int64         `json:"total_bytes,omitempty"`
	Percent    float64       `json:"percent"`
	SpeedBPS   float64       `json:"speed_bps"`
	ETA        time.Duration `json:"eta_ns,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Result is the outcome of a finished download.
type Result struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	FilePath string `json:"file_path,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	// SHA256 is the lowercase hex digest, set when integrity verification
	// was requested.
	SHA256          string              `json:"sha256,omitempty"`
	Duration        time.Duration       `json:"duration_ns,omitempty"`
	AverageSpeedBPS float64             `json:"average_speed_bps,omitempty"`
	Metadata        *domain.PaperRecord `json:"metadata,omitempty"`
	Error           string              `json:"error,omitempty"`
}
