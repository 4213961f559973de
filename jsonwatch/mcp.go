package jsonwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/jsonwatch/jsondiff"
	"github.com/hazyhaar/jsonwatch/kit"
	"github.com/hazyhaar/jsonwatch/render"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer returns an MCP server exposing the service's tools.
func (s *Service) NewMCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "jsonwatch", Version: Version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers jsonwatch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerDiffTool(srv)
	s.registerStatsTool(srv)
	s.registerSnapshotTool(srv)
	s.registerPollNowTool(srv)
	s.registerHistoryTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (s *Service) endpoint(name string, e kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name))(e)
}

type emptyReq struct{}

// --- diff ---

type diffReq struct {
	Old         json.RawMessage `json:"old"`
	New         json.RawMessage `json:"new"`
	Mode        jsondiff.Mode   `json:"mode"`
	ItemDepth   *int            `json:"item_depth"`
	DetectMoves *bool           `json:"detect_moves"`
	Target      render.Target   `json:"target"`
}

type diffResp struct {
	Changes   []jsondiff.Change  `json:"changes"`
	ChangeSet jsondiff.ChangeSet `json:"change_set"`
	Counts    jsondiff.Counts    `json:"counts"`
	Text      string             `json:"text"`
}

func (s *Service) registerDiffTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "jsonwatch_diff",
		Description: "Diff two JSON documents and return the added, edited and removed items with the rendered notification text.",
		InputSchema: inputSchema(map[string]any{
			"old":          map[string]any{"description": "Previous JSON document"},
			"new":          map[string]any{"description": "Current JSON document"},
			"mode":         map[string]any{"type": "string", "enum": []string{"record", "atomic"}, "description": "Classification mode (default: configured mode)"},
			"item_depth":   map[string]any{"type": "integer", "minimum": 0, "description": "Fixed item depth; 0 detects records"},
			"detect_moves": map[string]any{"type": "boolean", "description": "Report pure array reorders as one edit"},
			"target":       map[string]any{"type": "string", "enum": []string{"text", "markdown", "mrkdwn", "html"}, "description": "Text flavour (default: text)"},
		}, []string{"old", "new"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*diffReq)
		if len(r.Old) == 0 || len(r.New) == 0 {
			return nil, errors.New("old and new are required")
		}
		old, err := jsondiff.Parse(r.Old)
		if err != nil {
			return nil, fmt.Errorf("old: %w", err)
		}
		cur, err := jsondiff.Parse(r.New)
		if err != nil {
			return nil, fmt.Errorf("new: %w", err)
		}

		opts := s.cfg.Diff
		if r.Mode != "" {
			if r.Mode != jsondiff.ModeRecord && r.Mode != jsondiff.ModeAtomic {
				return nil, fmt.Errorf("unknown mode %q", r.Mode)
			}
			opts.Mode = r.Mode
		}
		if r.ItemDepth != nil {
			if *r.ItemDepth < 0 {
				return nil, errors.New("item_depth must not be negative")
			}
			opts.ItemDepth = *r.ItemDepth
		}
		if r.DetectMoves != nil {
			opts.DetectMoves = *r.DetectMoves
		}
		target := r.Target
		if target == "" {
			target = render.TargetText
		}

		changes, cs := jsondiff.Compare(old, cur, opts)
		resp := diffResp{Changes: changes, ChangeSet: cs, Counts: cs.Counts()}
		if resp.Changes == nil {
			resp.Changes = []jsondiff.Change{}
		}
		if !cs.IsEmpty() {
			resp.Text = s.renderer.Render(target, render.Summary(resp.Counts), s.renderer.Format(cs))
		}
		return resp, nil
	}

	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[diffReq]())
}

// --- stats ---

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "jsonwatch_stats",
		Description: "Return the poll loop counters and the last cycle result.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		return s.watcher.Stats(), nil
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[emptyReq]())
}

// --- snapshot ---

func (s *Service) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "jsonwatch_snapshot",
		Description: "Return the currently held snapshot of the watched document.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(_ context.Context, _ any) (any, error) {
		snap := s.watcher.State().Last()
		if snap == nil {
			return nil, errors.New("no snapshot yet")
		}
		return snap, nil
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[emptyReq]())
}

// --- poll_now ---

func (s *Service) registerPollNowTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "jsonwatch_poll_now",
		Description: "Run one poll cycle immediately. Returns outcome \"skipped\" if a cycle is already running.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, _ any) (any, error) {
		return s.PollNow(ctx), nil
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[emptyReq]())
}

// --- history ---

type historyReq struct {
	Limit int `json:"limit"`
}

func (s *Service) registerHistoryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "jsonwatch_history",
		Description: "List recent poll cycles from the cycle log, newest first.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "minimum": 1, "maximum": 1000, "description": "Maximum rows (default: 50)"},
		}, nil),
	}
	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*historyReq)
		if s.cycles == nil {
			return nil, errors.New("cycle log disabled: set observability.db")
		}
		if r.Limit > 1000 {
			r.Limit = 1000
		}
		return s.cycles.Recent(ctx, r.Limit)
	}
	kit.RegisterMCPTool(srv, tool, s.endpoint(tool.Name, endpoint), kit.DecodeArgs[historyReq]())
}
