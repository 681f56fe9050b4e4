package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/resolver/internal/logging"
	"github.com/rendis/resolver/pkg/schema"
)

// handleValidateJob checks a job definition without resolving anything.
func (s *ResolverServer) handleValidateJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	condition, err := req.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError("condition is required"), nil
	}
	vars, err := req.RequireString("vars")
	if err != nil {
		return mcp.NewToolResultError("vars is required"), nil
	}
	msgs, err := req.RequireString("msgs")
	if err != nil {
		return mcp.NewToolResultError("msgs is required"), nil
	}

	def := schema.JobDefinition{
		Condition:          condition,
		TerminateCondition: req.GetString("terminate_condition", ""),
		Vars:               vars,
		Msgs:               msgs,
	}
	if err := s.resolver.ValidateJobCreation(withIDs(ctx, req), def); err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"valid": true})
}

// handleHydrateVars resolves a variable list.
func (s *ResolverServer) handleHydrateVars(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vars, err := req.RequireString("vars")
	if err != nil {
		return mcp.NewToolResultError("vars is required"), nil
	}
	inputs, err := externalInputs(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid external_inputs: %v", err)), nil
	}

	exec, err := execContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.resolver.HydrateVars(withIDs(ctx, req), vars, inputs, exec)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"vars": out})
}

// handleResolveCondition evaluates a condition.
func (s *ResolverServer) handleResolveCondition(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	condition, err := req.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError("condition is required"), nil
	}
	vars, err := req.RequireString("vars")
	if err != nil {
		return mcp.NewToolResultError("vars is required"), nil
	}

	exec, err := execContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := s.resolver.ResolveCondition(withIDs(ctx, req), condition, vars, exec)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"result": ok})
}

// handleApplyVarFn runs update functions for a job status.
func (s *ResolverServer) handleApplyVarFn(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	vars, err := req.RequireString("vars")
	if err != nil {
		return mcp.NewToolResultError("vars is required"), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}

	exec, err := execContext(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.resolver.ApplyVarFn(withIDs(ctx, req), vars, schema.JobStatus(status), exec)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"vars": out})
}

// handleHydrateMsgs produces concrete instructions.
func (s *ResolverServer) handleHydrateMsgs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msgs, err := req.RequireString("msgs")
	if err != nil {
		return mcp.NewToolResultError("msgs is required"), nil
	}
	vars, err := req.RequireString("vars")
	if err != nil {
		return mcp.NewToolResultError("vars is required"), nil
	}

	out, err := s.resolver.HydrateMsgs(withIDs(ctx, req), msgs, vars)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(map[string]any{"msgs": out})
}

// handleSimulateQuery runs a raw query.
func (s *ResolverServer) handleSimulateQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	resp, err := s.resolver.SimulateQuery(withIDs(ctx, req), q)
	if err != nil {
		return errorResult(err), nil
	}
	return marshalResult(resp)
}

// handleCycle summarizes one evaluation cycle from the log.
func (s *ResolverServer) handleCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cycleID, err := req.RequireString("cycle_id")
	if err != nil {
		return mcp.NewToolResultError("cycle_id is required"), nil
	}

	summary, err := s.evaluations.Summarize(ctx, cycleID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cycle lookup failed: %v", err)), nil
	}
	evs, err := s.evaluations.Cycle(ctx, cycleID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cycle lookup failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"summary": summary, "evaluations": evs})
}

// --- Helpers ---

func withIDs(ctx context.Context, req mcp.CallToolRequest) context.Context {
	return logging.WithIDs(ctx, req.GetString("job_id", ""), req.GetString("cycle_id", ""))
}

func execContext(req mcp.CallToolRequest) (schema.ExecContext, error) {
	height, err := uintArg(req, "block_height")
	if err != nil {
		return schema.ExecContext{}, err
	}
	ts, err := uintArg(req, "timestamp")
	if err != nil {
		return schema.ExecContext{}, err
	}
	return schema.ExecContext{
		BlockHeight: height,
		Timestamp:   ts,
		ChainID:     req.GetString("chain_id", ""),
	}, nil
}

// maxExactFloat is the largest integer a JSON number decoded as float64 holds
// exactly. Larger values must be passed as strings.
const maxExactFloat = 1 << 53

// uintArg reads an unsigned integer given as a base-10 string or a JSON number.
func uintArg(req mcp.CallToolRequest, name string) (uint64, error) {
	switch v := req.GetArguments()[name].(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an unsigned integer, got %q", name, v)
		}
		return n, nil
	case json.Number:
		n, err := strconv.ParseUint(v.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an unsigned integer, got %s", name, v)
		}
		return n, nil
	case float64:
		if v < 0 || v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%s must be an unsigned integer, got %v", name, v)
		}
		if v > maxExactFloat {
			return 0, fmt.Errorf("%s %v exceeds 2^53; pass it as a string", name, v)
		}
		return uint64(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("%s must be an unsigned integer, got %d", name, v)
		}
		return uint64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("%s must be an unsigned integer, got %d", name, v)
		}
		return uint64(v), nil
	case uint64:
		return v, nil
	default:
		return 0, fmt.Errorf("%s must be an unsigned integer, got %T", name, v)
	}
}

// externalInputs re-decodes the loosely typed argument into the schema type.
func externalInputs(req mcp.CallToolRequest) ([]schema.ExternalInput, error) {
	raw, ok := req.GetArguments()["external_inputs"]
	if !ok || raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var inputs []schema.ExternalInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// errorResult reports a failed entry point. Resolver errors are sent as their
// JSON form so clients can branch on the code.
func errorResult(err error) *mcp.CallToolResult {
	var rerr *schema.ResolverError
	if errors.As(err, &rerr) {
		if data, mErr := json.Marshal(rerr); mErr == nil {
			return mcp.NewToolResultError(string(data))
		}
	}
	return mcp.NewToolResultError(err.Error())
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
