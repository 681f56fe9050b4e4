// Package mcp exposes the resolver entry points as MCP tools over stdio.
package mcp

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/resolver/internal/resolver"
	"github.com/rendis/resolver/internal/store"
)

// ResolverServerDeps holds the dependencies for creating a ResolverServer.
type ResolverServerDeps struct {
	Resolver *resolver.Resolver
	// Evaluations is optional. When set, the resolver.cycle tool is registered.
	Evaluations *store.EvaluationLog
	Logger      *slog.Logger
	Version     string
}

// ResolverServer wraps an MCP server with resolver tool handlers.
type ResolverServer struct {
	resolver    *resolver.Resolver
	evaluations *store.EvaluationLog
	logger      *slog.Logger
	mcpServer   *server.MCPServer
}

// NewResolverServer creates a ResolverServer with the entry point tools registered.
func NewResolverServer(deps ResolverServerDeps) *ResolverServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &ResolverServer{
		resolver:    deps.Resolver,
		evaluations: deps.Evaluations,
		logger:      logger,
	}

	mcpSrv := server.NewMCPServer(
		"resolver",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions()),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// instructions is sent to clients on initialize.
func instructions() string {
	return "The resolver validates job definitions, resolves $warp.variable placeholders and evaluates job conditions. " +
		"Call resolver.hydrate_vars first, then resolver.resolve_condition with the hydrated vars, then resolver.hydrate_msgs. " +
		"After the job runs, resolver.apply_var_fn updates variables for the next cycle. " +
		"Function values may call: " + strings.Join(resolver.Functions(), ", ") + "."
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ResolverServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ResolverServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *ResolverServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: validateJobTool(), Handler: s.handleValidateJob},
		{Tool: hydrateVarsTool(), Handler: s.handleHydrateVars},
		{Tool: resolveConditionTool(), Handler: s.handleResolveCondition},
		{Tool: applyVarFnTool(), Handler: s.handleApplyVarFn},
		{Tool: hydrateMsgsTool(), Handler: s.handleHydrateMsgs},
		{Tool: simulateQueryTool(), Handler: s.handleSimulateQuery},
	}
	if s.evaluations != nil {
		tools = append(tools, server.ServerTool{Tool: cycleTool(), Handler: s.handleCycle})
	}
	return tools
}

// --- Tool definitions ---

// Every tool accepts job_id and cycle_id so calls can be correlated in logs
// and in the evaluation log.
func correlationArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("job_id", mcp.Description("Job identifier used for log correlation")),
		mcp.WithString("cycle_id", mcp.Description("Evaluation cycle identifier; generated when omitted")),
	}
}

func execArgs() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("block_height", mcp.Description("Current block height as a base-10 unsigned integer; JSON numbers up to 2^53 are also accepted")),
		mcp.WithString("timestamp", mcp.Description("Current block time in unix seconds, same form as block_height")),
		mcp.WithString("chain_id", mcp.Description("Chain identifier")),
	}
}

func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	all = append(all, correlationArgs()...)
	return mcp.NewTool(name, all...)
}

func validateJobTool() mcp.Tool {
	return newTool("resolver.validate_job", "Validate a job definition before creation",
		mcp.WithString("condition", mcp.Required(), mcp.Description("Condition as JSON or textual expression")),
		mcp.WithString("terminate_condition", mcp.Description("Optional termination condition")),
		mcp.WithString("vars", mcp.Required(), mcp.Description("Variable list as JSON text")),
		mcp.WithString("msgs", mcp.Required(), mcp.Description("Instruction templates as JSON text")),
	)
}

func hydrateVarsTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithString("vars", mcp.Required(), mcp.Description("Variable list as JSON text")),
		mcp.WithArray("external_inputs", mcp.Description("Caller-supplied values for external variables: [{name, input}]")),
	}
	return newTool("resolver.hydrate_vars", "Resolve every variable of a job", append(opts, execArgs()...)...)
}

func resolveConditionTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithString("condition", mcp.Required(), mcp.Description("Condition as JSON or textual expression")),
		mcp.WithString("vars", mcp.Required(), mcp.Description("Hydrated variable list as JSON text")),
	}
	return newTool("resolver.resolve_condition", "Evaluate a job condition against hydrated variables", append(opts, execArgs()...)...)
}

func applyVarFnTool() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithString("vars", mcp.Required(), mcp.Description("Variable list as JSON text")),
		mcp.WithString("status", mcp.Required(),
			mcp.Enum("pending", "executed", "failed", "cancelled", "evicted"),
			mcp.Description("Status the job reached"),
		),
	}
	return newTool("resolver.apply_var_fn", "Apply variable update functions after a job runs", append(opts, execArgs()...)...)
}

func hydrateMsgsTool() mcp.Tool {
	return newTool("resolver.hydrate_msgs", "Substitute variable values into instruction templates",
		mcp.WithString("msgs", mcp.Required(), mcp.Description("Instruction templates as JSON text")),
		mcp.WithString("vars", mcp.Required(), mcp.Description("Hydrated variable list as JSON text")),
	)
}

func simulateQueryTool() mcp.Tool {
	return newTool("resolver.simulate_query", "Run a raw state query and return the whole response",
		mcp.WithString("query", mcp.Required(), mcp.Description("Query request as JSON text")),
	)
}

func cycleTool() mcp.Tool {
	return mcp.NewTool("resolver.cycle",
		mcp.WithDescription("Summarize the logged entry point calls of an evaluation cycle"),
		mcp.WithString("cycle_id", mcp.Required(), mcp.Description("Cycle to summarize")),
	)
}
