package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterMCPTool serves endpoint as the MCP tool described by tool. The
// call arguments are unmarshalled into a fresh Req, so a tool without
// arguments uses struct{}. Bad arguments and endpoint errors are reported
// as tool errors, never as protocol errors.
func RegisterMCPTool[Req any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithTransport(ctx, "mcp")
		var req Req
		if call.Params != nil && len(call.Params.Arguments) > 0 {
			if err := json.Unmarshal(call.Params.Arguments, &req); err != nil {
				return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
			}
		}
		resp, err := endpoint(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode response: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
