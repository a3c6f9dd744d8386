// Package mcp exposes the research pipeline as Model Context Protocol
// tools over stdio transport: submit a topic, poll a request, list
// recent requests.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"

	"github.com/scourlab/scour/internal/ledger"
	"github.com/scourlab/scour/internal/observability"
)

const serverName = "scour"

// Store is the ledger surface the tools read and write.
type Store interface {
	CreateRequest(ctx context.Context, topic string) (ledger.Request, error)
	MarkSearching(ctx context.Context, id uuid.UUID) error
	GetRequest(ctx context.Context, id uuid.UUID) (ledger.Request, error)
	CountSearchResults(ctx context.Context, id uuid.UUID) (int64, error)
	AnalysisFor(ctx context.Context, id uuid.UUID) (*ledger.AnalysisResult, error)
	ListRequests(ctx context.Context, status *ledger.Status, limit, offset int) ([]ledger.Request, error)
}

// Producer publishes stage tasks onto the bus.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

// ServerDeps holds the server's dependencies. Metrics and Tracer are
// optional; nil disables the corresponding wrapper.
type ServerDeps struct {
	Logger      *slog.Logger
	Store       Store
	Producer    Producer
	SearchTopic string
	Version     string
	Metrics     *observability.REDMetrics
	Tracer      trace.Tracer
}

// Server wraps the MCP SDK server with the research tools registered.
type Server struct {
	inner       *mcpsdk.Server
	store       Store
	producer    Producer
	searchTopic string
	log         *slog.Logger
	metrics     *observability.REDMetrics
	tracer      trace.Tracer
}

// NewServer creates an MCP server with all three research tools.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: deps.Version,
		},
		opts,
	)

	srv := &Server{
		inner:       inner,
		store:       deps.Store,
		producer:    deps.Producer,
		searchTopic: deps.SearchTopic,
		log:         deps.Logger,
		metrics:     deps.Metrics,
		tracer:      deps.Tracer,
	}

	srv.registerTools()

	return srv
}

// Run serves on stdio transport until the context is canceled or the
// connection closes.
func (s *Server) Run(ctx context.Context) error {
	if err := s.inner.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

// RunWithTransport serves on the given transport. Tests use in-memory
// transports through this.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	if err := s.inner.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameSubmit,
		Description: submitToolDescription,
	}, withMetrics(s.metrics, ToolNameSubmit, withTracing(s.tracer, ToolNameSubmit, s.handleSubmit)))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameStatus,
		Description: statusToolDescription,
	}, withMetrics(s.metrics, ToolNameStatus, withTracing(s.tracer, ToolNameStatus, s.handleStatus)))

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameList,
		Description: listToolDescription,
	}, withMetrics(s.metrics, ToolNameList, withTracing(s.tracer, ToolNameList, s.handleList)))
}

// withTracing wraps an MCP tool handler to create an OTel span per
// invocation.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, "mcp."+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		return handler(ctx, req, input)
	}
}

// withMetrics wraps an MCP tool handler to record RED metrics per
// invocation.
func withMetrics[Input any](
	metrics *observability.REDMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, "mcp."+toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		status := "ok"
		if err != nil || (result != nil && result.IsError) {
			status = "error"
		}

		metrics.RecordRequest(ctx, "mcp."+toolName, status, time.Since(start))

		return result, output, err
	}
}
