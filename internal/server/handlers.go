package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-retrieval-service/internal/domain"
	"github.com/helixir/paper-retrieval-service/internal/download"
	"github.com/helixir/paper-retrieval-service/internal/health"
	"github.com/helixir/paper-retrieval-service/internal/metasearch"
)

// Searcher is the slice of the meta-search executor the server needs.
type Searcher interface {
	Search(ctx context.Context, query domain.SearchQuery) (*metasearch.MetaResult, error)
}

// DownloadManager is the slice of the downloader the server needs.
type DownloadManager interface {
	Download(ctx context.Context, input download.Input) (*download.Result, error)
	Progress(id string) (download.Progress, error)
	Cancel(id string) error
	Active() []download.Progress
}

// HealthChecker produces on-demand health reports.
type HealthChecker interface {
	Check(ctx context.Context) *health.Report
}

// Server dispatches JSON-RPC methods to the service components.
type Server struct {
	searcher  Searcher
	downloads DownloadManager
	health    HealthChecker
	validate  *validator.Validate
	handlers  map[string]handler
	writeMu   sync.Mutex
	log       zerolog.Logger
}

// New creates a server wired to the given components.
func New(searcher Searcher, downloads DownloadManager, healthChecker HealthChecker, log zerolog.Logger) *Server {
	s := &Server{
		searcher:  searcher,
		downloads: downloads,
		health:    healthChecker,
		validate:  validator.New(),
		log:       log.With().Str("component", "server").Logger(),
	}
	s.handlers = map[string]handler{
		"search_papers":         s.handleSearchPapers,
		"download_paper":        s.handleDownloadPaper,
		"get_download_progress": s.handleGetDownloadProgress,
		"cancel_download":       s.handleCancelDownload,
		"list_active_downloads": s.handleListActiveDownloads,
		"health_check":          s.handleHealthCheck,
	}
	return s
}

type searchParams struct {
	Query      string `json:"query" validate:"required"`
	SearchType string `json:"search_type" validate:"omitempty,oneof=auto doi title author keywords subject"`
	Limit      int    `json:"limit" validate:"omitempty,min=1,max=100"`
	Offset     int    `json:"offset" validate:"omitempty,min=0"`
}

type searchResponse struct {
	Papers        []domain.PaperRecord `json:"papers"`
	TotalCount    int                  `json:"total_count"`
	ReturnedCount int                  `json:"returned_count"`
	Offset        int                  `json:"offset"`
	HasMore       bool                 `json:"has_more"`
	SearchTimeMS  int64                `json:"search_time_ms"`
	SourceMirror  string               `json:"source_mirror,omitempty"`
	Providers     []string             `json:"providers,omitempty"`
}

func (s *Server) handleSearchPapers(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p searchParams
	if rpcErr := decodeParams(s, params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	searchType, err := domain.ParseSearchType(p.SearchType)
	if err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	limit := p.Limit
	if limit == 0 {
		limit = 10
	}

	meta, err := s.searcher.Search(ctx, domain.SearchQuery{
		Query:      p.Query,
		Type:       searchType,
		MaxResults: limit,
		Offset:     p.Offset,
	})
	if err != nil {
		return nil, domainRPCError(err)
	}

	papers := meta.Papers
	if papers == nil {
		papers = []domain.PaperRecord{}
	}
	// Providers each return up to limit papers, so the merged set can exceed
	// it; the response carries at most limit.
	total := len(papers)
	if total > limit {
		papers = papers[:limit]
	}

	resp := &searchResponse{
		Papers:        papers,
		TotalCount:    total,
		ReturnedCount: len(papers),
		Offset:        p.Offset,
		HasMore:       total > limit,
		SearchTimeMS:  meta.TotalSearchTime.Milliseconds(),
		Providers:     meta.SuccessfulProviders,
	}
	if md, ok := meta.ProviderMetadata["scihub"]; ok {
		resp.SourceMirror = md["mirror"]
	}
	return resp, nil
}

type downloadParams struct {
	DOI             string `json:"doi" validate:"omitempty"`
	URL             string `json:"url" validate:"omitempty,url"`
	Filename        string `json:"filename"`
	Directory       string `json:"directory"`
	Overwrite       bool   `json:"overwrite"`
	VerifyIntegrity *bool  `json:"verify_integrity"`
}

func (s *Server) handleDownloadPaper(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p downloadParams
	if rpcErr := decodeParams(s, params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	verify := true
	if p.VerifyIntegrity != nil {
		verify = *p.VerifyIntegrity
	}

	res, err := s.downloads.Download(ctx, download.Input{
		DOI:             p.DOI,
		URL:             p.URL,
		Filename:        p.Filename,
		Directory:       p.Directory,
		Overwrite:       p.Overwrite,
		VerifyIntegrity: verify,
	})
	if err != nil {
		// A failed transfer is still a result: the handle and partial
		// state go back to the caller instead of a JSON-RPC error.
		if res != nil {
			return res, nil
		}
		return nil, domainRPCError(err)
	}
	return res, nil
}

type downloadIDParams struct {
	DownloadID string `json:"download_id" validate:"required"`
}

func (s *Server) handleGetDownloadProgress(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p downloadIDParams
	if rpcErr := decodeParams(s, params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	progress, err := s.downloads.Progress(p.DownloadID)
	if err != nil {
		return nil, domainRPCError(err)
	}
	return progress, nil
}

func (s *Server) handleCancelDownload(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p downloadIDParams
	if rpcErr := decodeParams(s, params, &p); rpcErr != nil {
		return nil, rpcErr
	}

	if err := s.downloads.Cancel(p.DownloadID); err != nil {
		return nil, domainRPCError(err)
	}
	return map[string]any{"download_id": p.DownloadID, "cancelled": true}, nil
}

func (s *Server) handleListActiveDownloads(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	active := s.downloads.Active()
	if active == nil {
		active = []download.Progress{}
	}
	return map[string]any{"downloads": active, "count": len(active)}, nil
}

func (s *Server) handleHealthCheck(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	return s.health.Check(ctx), nil
}

// domainRPCError maps taxonomy errors onto JSON-RPC codes: invalid input is
// an invalid-params error, everything else is internal with the kind
// attached as data.
func domainRPCError(err error) *rpcError {
	kind := domain.KindOf(err)
	if kind == domain.KindInvalidInput {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return &rpcError{Code: codeInternalError, Message: err.Error(), Data: map[string]string{"kind": string(kind)}}
}
