// Package server exposes the retrieval service over line-delimited JSON-RPC
// 2.0 on stdin/stdout. One request per line, one response per line; logs go
// to stderr so the transport stream stays clean.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/helixir/paper-retrieval-service/internal/observability"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 4 * 1024 * 1024

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// handler serves one method. A non-nil *rpcError becomes the JSON-RPC error
// object.
type handler func(ctx context.Context, params json.RawMessage) (any, *rpcError)

// Serve reads requests line by line until EOF or context cancellation. Each
// request is handled on its own goroutine so a long download never stalls
// progress queries; response writes are serialized.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.write(out, response{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
			})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.dispatch(ctx, out, req)
		}()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Server) dispatch(ctx context.Context, out io.Writer, req request) {
	log := observability.WithRequestContext(s.log, req.Method, string(req.ID))

	if req.JSONRPC != "2.0" || req.Method == "" {
		s.respond(out, req, nil, &rpcError{
			Code:    codeInvalidRequest,
			Message: "invalid request: jsonrpc must be \"2.0\" and method must be set",
		})
		return
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		log.Warn().Msg("unknown method")
		s.respond(out, req, nil, &rpcError{
			Code:    codeMethodNotFound,
			Message: "method not found: " + req.Method,
		})
		return
	}

	ctx = observability.WithMethod(ctx, req.Method)
	ctx = observability.WithRequestID(ctx, string(req.ID))

	result, rpcErr := h(ctx, req.Params)
	if rpcErr != nil {
		log.Warn().Int("code", rpcErr.Code).Str("error", rpcErr.Message).Msg("request failed")
	} else {
		log.Debug().Msg("request handled")
	}
	s.respond(out, req, result, rpcErr)
}

// respond writes the reply unless the request was a notification.
func (s *Server) respond(out io.Writer, req request, result any, rpcErr *rpcError) {
	if len(req.ID) == 0 || string(req.ID) == "null" {
		return
	}
	s.write(out, response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
}

func (s *Server) write(out io.Writer, resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	enc := json.NewEncoder(out)
	if err := enc.Encode(resp); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		s.log.Error().Err(err).Msg("failed to write response")
	}
}

// decodeParams unmarshals and validates method parameters.
func decodeParams[T any](s *Server, params json.RawMessage, dst *T) *rpcError {
	if len(params) > 0 {
		if err := json.Unmarshal(params, dst); err != nil {
			return &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}
