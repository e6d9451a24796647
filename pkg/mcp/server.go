// Package mcp serves read-only budget, cost and job tools to MCP clients
// over stdio using JSON-RPC 2.0.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/reelforge/pkg/clock"
	"github.com/reelforge/reelforge/pkg/jobs"
	"github.com/reelforge/reelforge/pkg/logging"
	"github.com/reelforge/reelforge/pkg/models"
)

// BudgetReporter evaluates the current budget status.
type BudgetReporter interface {
	Status(ctx context.Context) (models.BudgetStatus, error)
}

// CostReader lists recent ledger entries.
type CostReader interface {
	Query(ctx context.Context, window time.Duration, limit int) ([]models.CostEntry, error)
}

// JobReader reads stored jobs.
type JobReader interface {
	Get(ctx context.Context, id string) (*models.VideoJob, error)
	List(ctx context.Context, opts jobs.ListOpts) ([]models.VideoJob, error)
}

// JobReconciler refreshes a job from its provider.
type JobReconciler interface {
	Reconcile(ctx context.Context, id string) (*models.VideoJob, error)
}

// Deps are the components the tools read from. Reconciler is optional; without
// it job_status reports the stored record.
type Deps struct {
	Budget     BudgetReporter
	Costs      CostReader
	Jobs       JobReader
	Reconciler JobReconciler
	Expiry     time.Duration
	Clock      clock.Clock
	Logger     *zap.Logger
	Version    string
}

// Server is a minimal MCP server.
type Server struct {
	budget     BudgetReporter
	costs      CostReader
	jobs       JobReader
	reconciler JobReconciler
	expiry     time.Duration
	clock      clock.Clock
	logger     *zap.Logger
	version    string
}

// New creates a Server.
func New(d Deps) *Server {
	return &Server{
		budget:     d.Budget,
		costs:      d.Costs,
		jobs:       d.Jobs,
		reconciler: d.Reconciler,
		expiry:     d.Expiry,
		clock:      clock.OrReal(d.Clock),
		logger:     logging.OrNop(d.Logger).Named("mcp"),
		version:    d.Version,
	}
}

// Run reads one JSON-RPC message per line from r and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, errorResponse(nil, CodeParseError, "parse error"))
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.writeResponse(w, resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "reelforge", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
			Instructions:    "Inspect video generation spend, budget headroom and job progress.",
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	}
	if req.IsNotification() {
		return nil
	}
	return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method))
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params")
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return resultResponse(req.ID, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	s.logger.Debug("tool call", zap.String("tool", params.Name))
	return resultResponse(req.ID, handler(ctx, s, params.Arguments))
}

func (s *Server) writeResponse(w io.Writer, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}
