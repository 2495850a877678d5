package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbocsi/e4stream/broker"
	"github.com/mbocsi/e4stream/client"
)

type StatusSource interface {
	Status() client.Status
}

// MCPServer exposes the live session and the latest samples as read-only MCP tools.
type MCPServer struct {
	Server *server.MCPServer
	broker *broker.Broker
	status StatusSource
}

func NewMCPServer(b *broker.Broker, status StatusSource, version string) *MCPServer {
	s := &MCPServer{
		Server: server.NewMCPServer("e4stream", version, server.WithToolCapabilities(false)),
		broker: b,
		status: status,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is done or in reaches EOF.
func (s *MCPServer) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.NewStdioServer(s.Server).Listen(ctx, in, out)
}

func (s *MCPServer) registerTools() {
	s.Server.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Report the streaming session state, bound device and subscriptions"),
	), s.handleSessionStatus)

	s.Server.AddTool(mcp.NewTool("latest_samples",
		mcp.WithDescription("Latest decoded sample for every stream, or for one stream"),
		mcp.WithString("stream",
			mcp.Description("Stream code such as E4_Bvp; omit for all streams"),
		),
	), s.handleLatestSamples)

	s.Server.AddTool(mcp.NewTool("last_tag",
		mcp.WithDescription("Timestamp of the most recent button press tag"),
	), s.handleLastTag)

	s.Server.AddTool(mcp.NewTool("list_streams",
		mcp.WithDescription("Stream codes that have produced at least one sample"),
		mcp.WithBoolean("include_count",
			mcp.Description("Include the total number of published samples"),
		),
	), s.handleListStreams)
}

func (s *MCPServer) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.status == nil {
		return mcp.NewToolResultError("no session attached"), nil
	}
	return jsonResult(s.status.Status())
}

func (s *MCPServer) handleLatestSamples(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stream := request.GetString("stream", "")
	if stream == "" {
		return jsonResult(s.broker.Snapshot())
	}
	sample, ok := s.broker.Latest(stream)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no samples received for stream %s", stream)), nil
	}
	return jsonResult(sample)
}

func (s *MCPServer) handleLastTag(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag, ok := s.broker.LastTag()
	if !ok {
		return mcp.NewToolResultText("no tag received yet"), nil
	}
	return jsonResult(map[string]float64{"timestamp": tag.Timestamp})
}

func (s *MCPServer) handleListStreams(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	streams := slices.Sorted(maps.Keys(s.broker.Snapshot()))
	result := map[string]any{"streams": streams}
	if request.GetBool("include_count", false) {
		result["published"] = s.broker.Published()
	}
	return jsonResult(result)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to marshal result: %v", err)), err
	}
	return mcp.NewToolResultText(string(b)), nil
}
