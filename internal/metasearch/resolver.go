package metasearch

import (
	"context"
	"errors"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/observability"
	"github.com/helixir/paper-retrieval-service/internal/providers"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// ResolvePDFURL cascades over fulltext-capable providers in priority order
// until one yields a PDF URL for the DOI. Providers implementing
// PDFResolver are asked directly; the rest answer through a DOI lookup.
// When every provider comes up empty the last transient error is returned,
// or a not-found error if they all simply had nothing.
func (e *Executor) ResolvePDFURL(ctx context.Context, doi string) (string, error) {
	var lastErr error

	for _, p := range e.providers {
		if !p.SupportsFullText() {
			continue
		}

		plog := observability.WithProviderContext(e.log, p.Name())
		pdfURL, err := e.resolveFrom(ctx, p, doi)
		if err != nil {
			lastErr = err
			plog.Debug().Str("doi", doi).Err(err).Msg("pdf resolution failed")
			if e.metrics != nil {
				e.metrics.RecordPDFResolution("error")
			}
			continue
		}
		if pdfURL != "" {
			if e.metrics != nil {
				e.metrics.RecordPDFResolution("resolved")
			}
			plog.Debug().Str("doi", doi).Msg("pdf url resolved")
			return pdfURL, nil
		}
		if e.metrics != nil {
			e.metrics.RecordPDFResolution("empty")
		}
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.WrapError(domain.KindServiceUnavailable, "", domain.ErrNotFound)
}

func (e *Executor) resolveFrom(ctx context.Context, p providers.Provider, doi string) (string, error) {
	var pdfURL string
	err := e.guarded(ctx, p, func(callCtx context.Context) error {
		if resolver, ok := p.(providers.PDFResolver); ok {
			u, err := resolver.GetPDFURL(callCtx, doi, providers.SearchContext{})
			if err != nil {
				return err
			}
			pdfURL = u
			return nil
		}

		rec, err := p.GetByDOI(callCtx, doi, providers.SearchContext{})
		if err != nil {
			return err
		}
		if rec != nil {
			pdfURL = rec.PDFURL
		}
		return nil
	})
	if err != nil {
		// A clean miss is not an error for the cascade.
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return pdfURL, nil
}
