package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/observability"
)

const (
	defaultChunkSize        = 32 * 1024
	defaultProgressInterval = 500 * time.Millisecond
	defaultEventBuffer      = 16
	hashBufferSize          = 8 * 1024
)

// SourceResolver turns a DOI into a PDF source. The meta-search executor
// satisfies this.
type SourceResolver interface {
	GetByDOI(ctx context.Context, doi string) (*domain.PaperRecord, error)
	ResolvePDFURL(ctx context.Context, doi string) (string, error)
}

// Config holds downloader configuration.
type Config struct {
	// Directory is where downloads land unless the input overrides it.
	Directory string
	// UserAgent is sent on every download request.
	UserAgent string
	// ChunkSize is the streaming read size. Default: 32 KiB.
	ChunkSize int
	// ProgressInterval is how often progress snapshots are published.
	// Default: 500 ms.
	ProgressInterval time.Duration
	// EventBuffer is the per-download progress channel capacity.
	// Default: 16.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.UserAgent == "" {
		c.UserAgent = "Helixir-PaperRetrieval/1.0"
	}
	return c
}

// Downloader streams PDFs to disk. Transfers resume from partial files via
// Range requests, report progress on a best-effort channel, and can be
// cancelled at any chunk boundary.
type Downloader struct {
	cfg      Config
	client   *http.Client
	resolver SourceResolver
	metrics  *observability.Metrics
	registry *registry
	log      zerolog.Logger
}

// NewDownloader creates a downloader. The resolver may be nil when only
// direct URL downloads are needed; metrics may be nil.
func NewDownloader(cfg Config, client *http.Client, resolver SourceResolver, metrics *observability.Metrics, log zerolog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{}
	}
	return &Downloader{
		cfg:      cfg.withDefaults(),
		client:   client,
		resolver: resolver,
		metrics:  metrics,
		registry: newRegistry(),
		log:      log.With().Str("component", "download").Logger(),
	}
}

// Progress returns the latest snapshot for a download handle.
func (d *Downloader) Progress(id string) (Progress, error) { return d.registry.Progress(id) }

// Cancel stops a running download at its next chunk boundary. The partial
// file is kept so a later download of the same target resumes it.
func (d *Downloader) Cancel(id string) error { return d.registry.Cancel(id) }

// Active lists every download that has not finished.
func (d *Downloader) Active() []Progress { return d.registry.Active() }

// ClearCompleted forgets finished downloads and returns how many were
// removed.
func (d *Downloader) ClearCompleted() int { return d.registry.ClearCompleted() }

// Watch returns the progress event channel for a handle. Events are
// best-effort: the producer drops snapshots when the channel is full.
func (d *Downloader) Watch(id string) (<-chan Progress, error) {
	d.registry.mu.Lock()
	defer d.registry.mu.Unlock()
	t, ok := d.registry.byID[id]
	if !ok {
		return nil, domain.NewError(domain.KindInvalidInput, "download",
			fmt.Sprintf("unknown download id %q", id))
	}
	return t.events, nil
}

// Download runs a transfer to completion. Validation and setup problems
// return (nil, err); once the transfer is registered, failures come back as
// a Result with a terminal status alongside the error, so callers can
// report the handle and partial state.
func (d *Downloader) Download(ctx context.Context, input Input) (*Result, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	sourceURL, metadata, err := d.resolveSource(ctx, input)
	if err != nil {
		return nil, err
	}

	target, err := d.targetPath(input, metadata, sourceURL)
	if err != nil {
		return nil, err
	}

	// Existing-file shortcut: without overwrite a complete prior download
	// is either verified in place or rejected.
	if fi, statErr := os.Stat(target); statErr == nil && !input.Overwrite {
		if input.VerifyIntegrity {
			sum, hashErr := hashFile(target)
			if hashErr != nil {
				return nil, domain.WrapError(domain.KindIO, "download", hashErr)
			}
			d.log.Info().Str("path", target).Msg("existing file verified, skipping download")
			return &Result{
				Status:   StatusCompleted,
				FilePath: target,
				FileSize: fi.Size(),
				SHA256:   sum,
				Metadata: metadata,
			}, nil
		}
		return nil, domain.NewError(domain.KindInvalidInput, "download",
			fmt.Sprintf("file already exists: %s", target))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t, err := d.registry.register(target, cancel, d.cfg.EventBuffer)
	if err != nil {
		return nil, err
	}
	defer d.registry.releasePath(t)

	if d.metrics != nil {
		d.metrics.RecordDownloadStarted()
	}
	log := observability.WithDownloadContext(d.log, t.id, target).With().Str("url", sourceURL).Logger()
	log.Info().Msg("download started")

	start := time.Now()
	outcome, err := d.run(runCtx, t, sourceURL, target)
	res := &outcome
	res.ID = t.id
	res.Metadata = metadata
	res.Duration = time.Since(start)
	if res.Duration > 0 && res.FileSize > 0 {
		res.AverageSpeedBPS = float64(res.FileSize) / res.Duration.Seconds()
	}

	if err != nil {
		status := StatusFailed
		if d.registry.wasCancelled(t) {
			status = StatusCancelled
			err = fmt.Errorf("download %s: %w", t.id, domain.ErrCancelled)
		}
		res.Status = status
		res.Error = err.Error()
		d.registry.update(t, func(p *Progress) {
			p.Status = status
			p.Error = res.Error
		})
		if d.metrics != nil {
			if status == StatusCancelled {
				d.metrics.RecordDownloadCancelled()
			} else {
				d.metrics.RecordDownloadFailed()
			}
		}
		log.Warn().Err(err).Str("status", string(status)).Msg("download did not complete")
		return res, err
	}

	if input.VerifyIntegrity {
		sum, hashErr := hashFile(target)
		if hashErr != nil {
			res.Status = StatusFailed
			res.Error = hashErr.Error()
			d.registry.update(t, func(p *Progress) {
				p.Status = StatusFailed
				p.Error = res.Error
			})
			if d.metrics != nil {
				d.metrics.RecordDownloadFailed()
			}
			return res, domain.WrapError(domain.KindIO, "download", hashErr)
		}
		res.SHA256 = sum
	}

	res.Status = StatusCompleted
	d.registry.update(t, func(p *Progress) {
		p.Status = StatusCompleted
		p.Percent = 100
	})
	if d.metrics != nil {
		d.metrics.RecordDownloadCompleted(res.FileSize, res.Duration.Seconds())
	}
	log.Info().Int64("bytes", res.FileSize).Dur("duration", res.Duration).Msg("download completed")
	return res, nil
}

// resolveSource maps the input to a concrete URL. Direct URLs pass through
// with no metadata; DOIs go through the provider cascade, preferring a
// metadata record so the filename can come from the paper title.
func (d *Downloader) resolveSource(ctx context.Context, input Input) (string, *domain.PaperRecord, error) {
	if input.URL != "" {
		return input.URL, nil, nil
	}
	if d.resolver == nil {
		return "", nil, domain.NewError(domain.KindConfig, "download", "no source resolver configured")
	}

	var metadata *domain.PaperRecord
	if rec, err := d.resolver.GetByDOI(ctx, input.DOI); err == nil {
		metadata = rec
		if rec.PDFURL != "" {
			return rec.PDFURL, rec, nil
		}
	}

	pdfURL, err := d.resolver.ResolvePDFURL(ctx, input.DOI)
	if err != nil {
		return "", nil, err
	}
	return pdfURL, metadata, nil
}

// targetPath resolves the destination, creating the directory when needed.
func (d *Downloader) targetPath(input Input, metadata *domain.PaperRecord, sourceURL string) (string, error) {
	dir := input.Directory
	if dir == "" {
		dir = d.cfg.Directory
	}
	if dir == "" {
		return "", domain.NewError(domain.KindConfig, "download", "no download directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", domain.WrapError(domain.KindIO, "download", err)
	}

	target := filepath.Join(dir, deriveFilename(input.Filename, metadata, sourceURL))
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", domain.WrapError(domain.KindIO, "download", err)
	}
	return filepath.Clean(abs), nil
}

// run performs the transfer. A partial file at the target resumes via a
// Range request; only 200 and 206 responses are accepted. The file is
// created lazily on the first received chunk so an upstream that returns
// nothing never leaves a zero-byte file behind.
func (d *Downloader) run(ctx context.Context, t *task, sourceURL, target string) (Result, error) {
	res := Result{FilePath: target}

	var startByte int64
	if fi, err := os.Stat(target); err == nil {
		startByte = fi.Size()
	}

	totalBytes := d.headContentLength(ctx, sourceURL)

	d.registry.update(t, func(p *Progress) {
		p.Status = StatusInProgress
		p.BytesDownloaded = startByte
		p.TotalBytes = totalBytes
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return res, domain.WrapError(domain.KindInvalidInput, "download", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")
	if startByte > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(startByte, 10)+"-")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return res, classifyTransferError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// The upstream ignored the Range header; restart from scratch.
		if startByte > 0 {
			if err := os.Truncate(target, 0); err != nil {
				return res, domain.WrapError(domain.KindIO, "download", err)
			}
			startByte = 0
			d.registry.update(t, func(p *Progress) { p.BytesDownloaded = 0 })
		}
	case http.StatusPartialContent:
	default:
		return res, domain.NewUpstreamStatusError("download", resp.StatusCode,
			fmt.Sprintf("download request returned HTTP %d", resp.StatusCode))
	}

	if totalBytes == 0 {
		if cl := resp.ContentLength; cl > 0 {
			totalBytes = cl + startByte
			d.registry.update(t, func(p *Progress) { p.TotalBytes = totalBytes })
		}
	}

	written, err := d.stream(ctx, t, resp.Body, target, startByte, totalBytes)
	res.FileSize = startByte + written
	if err != nil {
		return res, err
	}
	if written == 0 && startByte == 0 {
		return res, domain.NewError(domain.KindIO, "download", "no data received from upstream")
	}
	return res, nil
}

// stream copies the response body to the target file chunk by chunk,
// publishing progress on a fixed cadence and honoring cancellation between
// chunks.
func (d *Downloader) stream(ctx context.Context, t *task, body io.Reader, target string, startByte, totalBytes int64) (int64, error) {
	var f *os.File
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	buf := make([]byte, d.cfg.ChunkSize)
	var written int64
	lastPublish := time.Now()
	bytesAtPublish := startByte

	for {
		if err := ctx.Err(); err != nil {
			return written, classifyTransferError(ctx, err)
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if f == nil {
				var openErr error
				f, openErr = openTarget(target, startByte)
				if openErr != nil {
					return written, domain.WrapError(domain.KindIO, "download", openErr)
				}
			}
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				return written, domain.WrapError(domain.KindIO, "download", writeErr)
			}
			written += int64(n)

			if now := time.Now(); now.Sub(lastPublish) >= d.cfg.ProgressInterval {
				downloaded := startByte + written
				elapsed := now.Sub(lastPublish).Seconds()
				speed := float64(downloaded-bytesAtPublish) / elapsed
				d.registry.update(t, func(p *Progress) {
					p.BytesDownloaded = downloaded
					p.SpeedBPS = speed
					if totalBytes > 0 {
						p.Percent = 100 * float64(downloaded) / float64(totalBytes)
						if speed > 0 {
							p.ETA = time.Duration(float64(totalBytes-downloaded) / speed * float64(time.Second))
						}
					}
				})
				lastPublish = now
				bytesAtPublish = downloaded
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, classifyTransferError(ctx, readErr)
		}
	}

	if f != nil {
		if err := f.Sync(); err != nil {
			return written, domain.WrapError(domain.KindIO, "download", err)
		}
	}
	d.registry.update(t, func(p *Progress) {
		p.BytesDownloaded = startByte + written
	})
	return written, nil
}

// openTarget opens the file for append when resuming, otherwise creates it
// fresh with restrictive permissions.
func openTarget(target string, startByte int64) (*os.File, error) {
	if startByte > 0 {
		return os.OpenFile(target, os.O_WRONLY|os.O_APPEND, 0o600)
	}
	return os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
}

// headContentLength asks the upstream for the total size. Failures are
// tolerated: not every host answers HEAD, and the GET's Content-Length
// fills the gap.
func (d *Downloader) headContentLength(ctx context.Context, sourceURL string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, sourceURL, nil)
	if err != nil {
		return 0
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return 0
	}
	return resp.ContentLength
}

// classifyTransferError maps mid-stream failures onto the error taxonomy.
// Context expiry stays a timeout so callers can distinguish it from disk
// errors; everything else on the wire is transport trouble.
func classifyTransferError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return domain.WrapError(domain.KindNetworkTimeout, "download", err)
	}
	return domain.WrapError(domain.KindHTTPTransport, "download", err)
}

// hashFile computes the SHA-256 digest of a file in a separate read pass.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
