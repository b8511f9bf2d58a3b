package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listDocumentsTool(),
		s.getDocumentTool(),
		s.listChangeSetsTool(),
		s.getPendingChangeSetTool(),
		s.listRunsTool(),
		s.getAgentStatusesTool(),
	)
}

func threadIDTool(name, desc string, handler mcpserver.ToolHandlerFunc, extra ...mcplib.ToolOption) mcpserver.ServerTool {
	opts := []mcplib.ToolOption{
		mcplib.WithDescription(desc),
		mcplib.WithString("thread_id",
			mcplib.Required(),
			mcplib.Description("The conversation thread ID"),
		),
	}
	opts = append(opts, extra...)
	return mcpserver.ServerTool{
		Tool:    mcplib.NewTool(name, opts...),
		Handler: handler,
	}
}

func (s *Server) listDocumentsTool() mcpserver.ServerTool {
	return threadIDTool("list_documents",
		"List a thread's shared documents with their current versions",
		s.handleListDocuments,
	)
}

func (s *Server) getDocumentTool() mcpserver.ServerTool {
	return threadIDTool("get_document",
		"Get one shared document including its content",
		s.handleGetDocument,
		mcplib.WithString("doc_id",
			mcplib.Required(),
			mcplib.Description("The document ID, e.g. product_brief"),
		),
	)
}

func (s *Server) listChangeSetsTool() mcpserver.ServerTool {
	return threadIDTool("list_change_sets",
		"List a thread's change-sets with their review decisions",
		s.handleListChangeSets,
	)
}

func (s *Server) getPendingChangeSetTool() mcpserver.ServerTool {
	return threadIDTool("get_pending_change_set",
		"Get the change-set currently awaiting a human decision, including diffs",
		s.handleGetPendingChangeSet,
	)
}

func (s *Server) listRunsTool() mcpserver.ServerTool {
	return threadIDTool("list_runs",
		"List a thread's runs with status and trigger",
		s.handleListRuns,
	)
}

func (s *Server) getAgentStatusesTool() mcpserver.ServerTool {
	return threadIDTool("get_agent_statuses",
		"Get the latest status of each agent that participated in the thread",
		s.handleGetAgentStatuses,
	)
}

// threadArg extracts the required thread_id argument.
func threadArg(req mcplib.CallToolRequest) (string, *mcplib.CallToolResult) {
	args := req.GetArguments()
	threadID, ok := args["thread_id"].(string)
	if !ok || threadID == "" {
		return "", mcplib.NewToolResultError("thread_id is required")
	}
	return threadID, nil
}

func toolResultJSON(v any) *mcplib.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err)
	}
	return mcplib.NewToolResultText(string(data))
}

func (s *Server) handleListDocuments(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Documents == nil {
		return mcplib.NewToolResultError("document reader not configured"), nil
	}
	threadID, errRes := threadArg(req)
	if errRes != nil {
		return errRes, nil
	}
	docs, err := s.deps.Documents.Documents(ctx, threadID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list documents", err), nil
	}
	return toolResultJSON(docs), nil
}

func (s *Server) handleGetDocument(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Documents == nil {
		return mcplib.NewToolResultError("document reader not configured"), nil
	}
	threadID, errRes := threadArg(req)
	if errRes != nil {
		return errRes, nil
	}
	docID, ok := req.GetArguments()["doc_id"].(string)
	if !ok || docID == "" {
		return mcplib.NewToolResultError("doc_id is required"), nil
	}
	doc, err := s.deps.Documents.Document(ctx, threadID, docID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(
			fmt.Sprintf("failed to get document %s", docID), err,
		), nil
	}
	return toolResultJSON(doc), nil
}

func (s *Server) handleListChangeSets(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.ChangeSets == nil {
		return mcplib.NewToolResultError("change-set reader not configured"), nil
	}
	threadID, errRes := threadArg(req)
	if errRes != nil {
		return errRes, nil
	}
	sets, err := s.deps.ChangeSets.List(ctx, threadID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list change-sets", err), nil
	}
	return toolResultJSON(sets), nil
}

func (s *Server) handleGetPendingChangeSet(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.ChangeSets == nil {
		return mcplib.NewToolResultError("change-set reader not configured"), nil
	}
	threadID, errRes := threadArg(req)
	if errRes != nil {
		return errRes, nil
	}
	cs, err := s.deps.ChangeSets.Pending(ctx, threadID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("no pending change-set", err), nil
	}
	return toolResultJSON(cs), nil
}

func (s *Server) handleListRuns(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Runs == nil {
		return mcplib.NewToolResultError("run reader not configured"), nil
	}
	threadID, errRes := threadArg(req)
	if errRes != nil {
		return errRes, nil
	}
	runs, err := s.deps.Runs.Runs(ctx, threadID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list runs", err), nil
	}
	return toolResultJSON(runs), nil
}

func (s *Server) handleGetAgentStatuses(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Runs == nil {
		return mcplib.NewToolResultError("run reader not configured"), nil
	}
	threadID, errRes := threadArg(req)
	if errRes != nil {
		return errRes, nil
	}
	statuses, err := s.deps.Runs.AgentStatuses(ctx, threadID)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to get agent statuses", err), nil
	}
	return toolResultJSON(statuses), nil
}
