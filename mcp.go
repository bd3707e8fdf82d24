package pgmcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// QueryToolName is the name of the only tool this server exposes.
const QueryToolName = "query"

// QueryTool returns the query tool descriptor.
func QueryTool() mcp.Tool {
	return mcp.NewTool(QueryToolName,
		mcp.WithDescription("Execute a SQL query against the PostgreSQL database. Read-only by default unless DANGEROUSLY_ALLOW_WRITE_OPS is enabled."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("SQL query to execute"),
		),
	)
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
}

func newInitializeResult() initializeResult {
	return initializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo: mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}
}

// queryToolResult wraps output per the tool-call convention: structured
// content plus the same JSON as text for clients that only read content.
func queryToolResult(output *QueryOutput) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query result: %w", err)
	}
	return mcp.NewToolResultStructured(output, string(text)), nil
}

func readResourceResult(uri string, output *QueryOutput) (*mcp.ReadResourceResult, error) {
	text, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource contents: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(text),
			},
		},
	}, nil
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
