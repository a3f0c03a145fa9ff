package symbols

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dictumlabs/dictum/internal/location"
)

// defaultTool is the tool name asked for when Config.Tool is empty.
const defaultTool = "find_symbol"

// Config describes the language-tools MCP server to connect to. Exactly one
// of Command and URL must be set: Command spawns a subprocess speaking stdio,
// URL addresses a streamable-HTTP endpoint.
type Config struct {
	// Command is the executable and its arguments, split on spaces.
	Command string

	// Env holds extra environment variables for the subprocess.
	Env map[string]string

	// URL is the streamable-HTTP endpoint address.
	URL string

	// Tool overrides the tool name called for resolution.
	Tool string
}

func (c Config) toolName() string {
	if c.Tool == "" {
		return defaultTool
	}
	return c.Tool
}

// toolCaller is the slice of the SDK session the resolver drives. Narrowed
// so tests can substitute the server; *mcpsdk.ClientSession satisfies it.
type toolCaller interface {
	CallTool(ctx context.Context, params *mcpsdk.CallToolParams) (*mcpsdk.CallToolResult, error)
}

// Compile-time interface assertion.
var _ location.SymbolResolver = (*MCPResolver)(nil)

// MCPResolver asks a language-tools MCP server for symbol definition ranges.
//
// The tool receives {"file": ..., "symbol": ...} and must reply with one JSON
// text content of the shape {"found": bool, "startLine": int, "endLine": int},
// lines 1-based and inclusive. A reply of any other shape is a protocol
// error; "symbol not found" is expressed through found, not through a tool
// error.
type MCPResolver struct {
	calls   toolCaller
	session *mcpsdk.ClientSession
	tool    string
}

// Connect establishes the server connection described by cfg. The caller
// must Close the resolver when done; for stdio servers that also reaps the
// subprocess.
func Connect(ctx context.Context, cfg Config) (*MCPResolver, error) {
	var transport mcpsdk.Transport
	switch {
	case cfg.Command != "":
		executable, args := splitCommand(cfg.Command)
		cmd := exec.CommandContext(ctx, executable, args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, errors.New("symbols: config needs a Command or a URL")
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "dictum", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("symbols: connect language server: %w", err)
	}

	return &MCPResolver{calls: session, session: session, tool: cfg.toolName()}, nil
}

// Close shuts down the server connection.
func (r *MCPResolver) Close() error {
	if r.session != nil {
		return r.session.Close()
	}
	return nil
}

// Resolve asks the server for the definition range of symbol in file.
func (r *MCPResolver) Resolve(ctx context.Context, file, symbol string) (location.SymbolRange, bool, error) {
	res, err := r.calls.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      r.tool,
		Arguments: map[string]any{"file": file, "symbol": symbol},
	})
	if err != nil {
		return location.SymbolRange{}, false, fmt.Errorf("symbols: call %s: %w", r.tool, err)
	}

	text := textContent(res)
	if res.IsError {
		return location.SymbolRange{}, false, fmt.Errorf("symbols: %s failed: %s", r.tool, text)
	}

	var reply struct {
		Found     bool `json:"found"`
		StartLine int  `json:"startLine"`
		EndLine   int  `json:"endLine"`
	}
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return location.SymbolRange{}, false, fmt.Errorf("symbols: %s returned malformed reply: %w", r.tool, err)
	}
	if !reply.Found {
		return location.SymbolRange{}, false, nil
	}
	if reply.StartLine < 1 || reply.EndLine < reply.StartLine {
		return location.SymbolRange{}, false, fmt.Errorf("symbols: %s returned invalid range %d..%d", r.tool, reply.StartLine, reply.EndLine)
	}
	return location.SymbolRange{StartLine: reply.StartLine, EndLine: reply.EndLine}, true, nil
}

// textContent concatenates the text parts of a tool result.
func textContent(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// splitCommand splits a command string into executable and arguments.
func splitCommand(command string) (executable string, args []string) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}
