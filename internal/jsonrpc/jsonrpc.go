// Package jsonrpc implements the line-delimited JSON-RPC transport over
// standard input/output: one JSON object per line, UTF-8, the server
// emitting an unprompted "notifications/initialized" notification before
// reading any input. This inverts the handshake direction the standard
// MCP SDK (github.com/modelcontextprotocol/go-sdk) expects — the client
// normally sends that notification after a successful initialize call —
// so this transport is hand-rolled over bufio.Scanner and
// encoding/json, the way the teacher's own HTTP and embedding clients
// talk to wire formats a heavy SDK doesn't cover, rather than forced
// through an SDK whose state machine runs the wrong way.
package jsonrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"

	"mnemo/internal/core"
	"mnemo/internal/orchestrator"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

const protocolVersion = "2024-11-05"
const serverName = "mnemo"
const serverVersion = "1.0.0"

const maxLineBytes = 16 * 1024 * 1024

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server is the JSON-RPC stdio transport over an Orchestrator.
type Server struct {
	orch *orchestrator.Orchestrator
	log  zerolog.Logger
	in   io.Reader
	out  io.Writer
}

// NewServer builds a Server reading requests from in and writing
// responses to out (typically os.Stdin/os.Stdout).
func NewServer(orch *orchestrator.Orchestrator, log zerolog.Logger, in io.Reader, out io.Writer) *Server {
	return &Server{orch: orch, log: log, in: in, out: out}
}

// Run emits the initial notification, then reads and dispatches one
// JSON-RPC request per line until in is exhausted or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.writeNotification("notifications/initialized", map[string]any{})

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(bytesTrimSpace(line)) == 0 {
			continue
		}
		s.handleLine(ctx, line)
	}
	return scanner.Err()
}

func bytesTrimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()}})
		return
	}

	switch req.Method {
	case "initialize":
		s.writeResponse(response{JSONRPC: "2.0", ID: req.ID, Result: initializeResult()})
	case "tools/list":
		s.writeResponse(response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": toolDescriptors()}})
	case "tools/call":
		result, rpcErr := s.handleToolsCall(ctx, req.Params)
		if rpcErr != nil {
			s.writeResponse(response{JSONRPC: "2.0", ID: req.ID, Error: rpcErr})
			return
		}
		s.writeResponse(response{JSONRPC: "2.0", ID: req.ID, Result: result})
	default:
		s.writeResponse(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}})
	}
}

func initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      map[string]any{"name": serverName, "version": serverVersion},
	}
}

func toolDescriptors() []map[string]any {
	return []map[string]any{
		{
			"name":        "memory_search",
			"description": "Search stored memories for the given query.",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": map[string]any{"type": "string"}, "limit": map[string]any{"type": "integer"}},
				"required":   []string{"query"},
			},
		},
		{
			"name":        "memory_inject",
			"description": "Inject relevant stored memories into a prompt.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"original_prompt": map[string]any{"type": "string"},
					"query_text":      map[string]any{"type": "string"},
					"injection_mode":  map[string]any{"type": "string"},
					"max_tokens":      map[string]any{"type": "integer"},
				},
				"required": []string{"original_prompt"},
			},
		},
		{
			"name":        "memory_status",
			"description": "Report orchestrator uptime, counters, and component health.",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{
			"name":        "memory_health",
			"description": "Report per-component health.",
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleToolsCall(ctx context.Context, raw json.RawMessage) (map[string]any, *rpcError) {
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: "invalid tools/call params: " + err.Error()}
	}

	var text string
	var err error
	switch params.Name {
	case "memory_search":
		text, err = s.callMemorySearch(ctx, params.Arguments)
	case "memory_inject":
		text, err = s.callMemoryInject(ctx, params.Arguments)
	case "memory_status":
		text, err = s.callMemoryStatus(ctx)
	case "memory_health":
		text, err = s.callMemoryHealth(ctx)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown tool: " + params.Name}
	}
	if err != nil {
		return map[string]any{"error": map[string]any{"code": codeInternalError, "message": err.Error()}}, nil
	}
	return map[string]any{"content": []map[string]any{{"type": "text", "text": text}}}, nil
}

func (s *Server) callMemorySearch(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Query string `json:"query"`
		Limit *int   `json:"limit"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", err
	}
	limit := 5
	if args.Limit != nil {
		limit = *args.Limit
	}
	results, err := s.orch.SearchMemories(ctx, core.SearchQuery{Text: args.Query, Limit: limit, QueryType: "hybrid"}, "")
	if err != nil {
		return "", err
	}
	return marshalText(map[string]any{"results": results})
}

func (s *Server) callMemoryInject(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		OriginalPrompt string `json:"original_prompt"`
		QueryText      string `json:"query_text"`
		InjectionMode  string `json:"injection_mode"`
		MaxTokens      int    `json:"max_tokens"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", err
	}
	result, err := s.orch.InjectContext(ctx, core.ContextInjectionRequest{
		OriginalPrompt: args.OriginalPrompt,
		QueryText:      args.QueryText,
		InjectionMode:  args.InjectionMode,
		MaxTokens:      args.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return marshalText(result)
}

func (s *Server) callMemoryStatus(ctx context.Context) (string, error) {
	return marshalText(s.orch.Status(ctx))
}

func (s *Server) callMemoryHealth(ctx context.Context) (string, error) {
	status := s.orch.Status(ctx)
	return marshalText(map[string]any{"components": status.ComponentHealth})
}

func marshalText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Server) writeNotification(method string, params any) {
	b, err := json.Marshal(notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return
	}
	s.writeLine(b)
}

func (s *Server) writeResponse(resp response) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.Error().Err(err).Msg("jsonrpc: failed to marshal response")
		return
	}
	s.writeLine(b)
}

func (s *Server) writeLine(b []byte) {
	b = append(b, '\n')
	if _, err := s.out.Write(b); err != nil {
		s.log.Error().Err(err).Msg("jsonrpc: failed to write response")
	}
}
