package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/codekeeper/crawler/internal/model"
)

// MCPConfig configures an external MCP server process that backs the
// Review Client, Generator, and/or Search interfaces. Generalized from
// the teacher's single-purpose MCPClient (GitHub-only) to a reusable
// transport shared by any of the three read-only external
// collaborators.
type MCPConfig struct {
	ServerCommand []string
	ServerEnv     map[string]string
}

// MCPClient is a thin wrapper around the MCP SDK, matching the teacher's
// mcp_client.go shape (connect once, call named tools, close).
type MCPClient struct {
	client  *mcp.Client
	session *mcp.ClientSession
	logger  *logrus.Logger
	cfg     MCPConfig
}

// NewMCPClient creates a disconnected MCP client for the given config.
func NewMCPClient(cfg MCPConfig, logger *logrus.Logger) *MCPClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &MCPClient{
		client: mcp.NewClient(&mcp.Implementation{Name: "codecrawler", Version: "v1.0.0"}, nil),
		logger: logger,
		cfg:    cfg,
	}
}

// Connect starts the configured server process and performs the MCP
// handshake.
func (m *MCPClient) Connect(ctx context.Context) error {
	if len(m.cfg.ServerCommand) == 0 {
		return fmt.Errorf("%w: MCP server command is required", model.ErrPermanentExternal)
	}
	cmd := exec.Command(m.cfg.ServerCommand[0], m.cfg.ServerCommand[1:]...)
	for k, v := range m.cfg.ServerEnv {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	transport := &mcp.CommandTransport{Command: cmd}
	session, err := m.client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("%w: connecting to MCP server: %v", model.ErrTransientExternal, err)
	}
	m.session = session
	m.logger.Info("connected to MCP server")
	return nil
}

// Close tears down the MCP session.
func (m *MCPClient) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}

func (m *MCPClient) callTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if m.session == nil {
		return "", fmt.Errorf("%w: MCP client not connected", model.ErrPermanentExternal)
	}
	res, err := m.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("%w: MCP tool %s failed: %v", model.ErrTransientExternal, name, err)
	}
	if res.IsError {
		return "", fmt.Errorf("%w: MCP tool %s returned an error result", model.ErrTransientExternal, name)
	}
	var sb []byte
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb = append(sb, []byte(tc.Text)...)
		}
	}
	return string(sb), nil
}

// MCPReviewClient implements ReviewClient over an MCP "review" tool.
type MCPReviewClient struct{ *MCPClient }

// Review calls the MCP server's "review" tool and decodes its JSON
// payload into a ReviewResult, validating each issue with
// ValidateIssuePayload.
func (r MCPReviewClient) Review(ctx context.Context, sourceText, path string) (ReviewResult, error) {
	raw, err := r.callTool(ctx, "review", map[string]any{"source_text": sourceText, "path": path})
	if err != nil {
		return ReviewResult{Success: false, Message: err.Error()}, err
	}
	var out struct {
		Success bool              `json:"success"`
		Issues  []json.RawMessage `json:"issues"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return ReviewResult{}, fmt.Errorf("%w: decoding review payload: %v", model.ErrTransientExternal, err)
	}
	issues := make([]model.Issue, 0, len(out.Issues))
	for _, rawIssue := range out.Issues {
		issue, err := ValidateIssuePayload(rawIssue)
		if err != nil {
			return ReviewResult{}, err
		}
		issues = append(issues, issue)
	}
	return ReviewResult{Success: out.Success, Issues: issues}, nil
}

// MCPSearch implements Search over an MCP "semantic_search" tool.
type MCPSearch struct{ *MCPClient }

// SemanticSearch calls the MCP server's "semantic_search" tool.
func (s MCPSearch) SemanticSearch(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	raw, err := s.callTool(ctx, "semantic_search", map[string]any{
		"query":     query,
		"limit":     opts.Limit,
		"threshold": opts.Threshold,
	})
	if err != nil {
		return nil, err
	}
	var out struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decoding search payload: %v", model.ErrTransientExternal, err)
	}
	return out.Results, nil
}

// MCPGenerator implements Generator over a named MCP "generate" tool,
// one per cascade stage (context-aware, codebase-aware, advanced,
// multi-file).
type MCPGenerator struct {
	*MCPClient
	name   string
	method model.Method
}

// NewMCPGenerator builds a Generator backed by the given MCP client and
// method tag.
func NewMCPGenerator(client *MCPClient, name string, method model.Method) *MCPGenerator {
	return &MCPGenerator{MCPClient: client, name: name, method: method}
}

// Name identifies this generator for logging and specialist routing.
func (g *MCPGenerator) Name() string { return g.name }

// Generate calls the MCP server's "generate" tool.
func (g *MCPGenerator) Generate(ctx context.Context, issue model.Issue, sourceText, path string, hints GenHints) (GenResult, bool, error) {
	raw, err := g.callTool(ctx, "generate", map[string]any{
		"issue":       issue,
		"source_text": sourceText,
		"path":        path,
		"hints":       hints,
	})
	if err != nil {
		return GenResult{}, false, err
	}
	if raw == "" {
		return GenResult{}, false, nil
	}
	var out struct {
		Code       string  `json:"code"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return GenResult{}, false, fmt.Errorf("%w: decoding generate payload: %v", model.ErrTransientExternal, err)
	}
	if out.Code == "" {
		return GenResult{}, false, nil
	}
	return GenResult{Code: out.Code, Method: g.method, Confidence: out.Confidence}, true, nil
}
