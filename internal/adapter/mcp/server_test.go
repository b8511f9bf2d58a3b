package mcp

import (
	"context"
	"encoding/json"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/document"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/run"
)

// --- Mocks ---

type mockDocumentReader struct {
	docs []document.Document
}

func (m *mockDocumentReader) Documents(_ context.Context, _ string) ([]document.Document, error) {
	return m.docs, nil
}

func (m *mockDocumentReader) Document(_ context.Context, _, docID string) (*document.Document, error) {
	for i := range m.docs {
		if m.docs[i].DocID == docID {
			return &m.docs[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockDocumentReader) DocumentRevisions(_ context.Context, _, _ string) ([]document.Revision, error) {
	return nil, nil
}

type mockChangeSetReader struct {
	pending *changeset.Detail
}

func (m *mockChangeSetReader) List(_ context.Context, _ string) ([]changeset.Detail, error) {
	if m.pending == nil {
		return nil, nil
	}
	return []changeset.Detail{*m.pending}, nil
}

func (m *mockChangeSetReader) Get(_ context.Context, _, id string) (*changeset.Detail, error) {
	if m.pending != nil && m.pending.ID == id {
		return m.pending, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockChangeSetReader) Pending(_ context.Context, _ string) (*changeset.Detail, error) {
	if m.pending == nil {
		return nil, domain.ErrNotFound
	}
	return m.pending, nil
}

type mockRunReader struct {
	runs     []run.Run
	statuses []run.AgentStatusEvent
}

func (m *mockRunReader) Runs(_ context.Context, _ string) ([]run.Run, error) {
	return m.runs, nil
}

func (m *mockRunReader) AgentStatuses(_ context.Context, _ string) ([]run.AgentStatusEvent, error) {
	return m.statuses, nil
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestHandleListDocuments(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{
		Documents: &mockDocumentReader{
			docs: []document.Document{
				{DocID: "product_brief", Title: "Product Brief", Version: 2},
				{DocID: "prd", Title: "PRD", Version: 1},
			},
		},
	})

	result, err := s.handleListDocuments(context.Background(), toolRequest("list_documents", map[string]any{"thread_id": "t1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var docs []document.Document
	if err := json.Unmarshal([]byte(resultText(t, result)), &docs); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].DocID != "product_brief" || docs[0].Version != 2 {
		t.Fatalf("unexpected first document: %+v", docs[0])
	}
}

func TestHandleGetDocumentMissingArgs(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{
		Documents: &mockDocumentReader{},
	})

	result, err := s.handleGetDocument(context.Background(), toolRequest("get_document", nil))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing thread_id")
	}

	result, err = s.handleGetDocument(context.Background(), toolRequest("get_document", map[string]any{"thread_id": "t1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing doc_id")
	}
}

func TestHandleGetPendingChangeSet(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{
		ChangeSets: &mockChangeSetReader{
			pending: &changeset.Detail{
				ChangeSet: changeset.ChangeSet{ID: "cs1", Status: changeset.StatusPending},
				Docs:      []string{"product_brief"},
			},
		},
	})

	result, err := s.handleGetPendingChangeSet(context.Background(), toolRequest("get_pending_change_set", map[string]any{"thread_id": "t1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var cs changeset.Detail
	if err := json.Unmarshal([]byte(resultText(t, result)), &cs); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if cs.ID != "cs1" || cs.Status != changeset.StatusPending {
		t.Fatalf("unexpected change-set: %+v", cs)
	}
}

func TestHandleListRuns(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{
		Runs: &mockRunReader{
			runs: []run.Run{{ID: "r1", Status: run.StatusCompleted}},
		},
	})

	result, err := s.handleListRuns(context.Background(), toolRequest("list_runs", map[string]any{"thread_id": "t1"}))
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}

	var runs []run.Run
	if err := json.Unmarshal([]byte(resultText(t, result)), &runs); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != run.StatusCompleted {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{})

	args := map[string]any{"thread_id": "t1"}
	checks := []struct {
		name    string
		handler func(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error)
	}{
		{"list_documents", s.handleListDocuments},
		{"list_change_sets", s.handleListChangeSets},
		{"list_runs", s.handleListRuns},
	}
	for _, c := range checks {
		result, err := c.handler(context.Background(), toolRequest(c.name, args))
		if err != nil {
			t.Fatalf("%s: handler error: %v", c.name, err)
		}
		if !result.IsError {
			t.Errorf("%s: expected error result when deps are nil", c.name)
		}
	}
}

func TestRosterResource(t *testing.T) {
	s := NewServer(ServerConfig{Name: "roundtable", Version: "0.1.0"}, ServerDeps{
		Roster: []roster.Specialist{
			{Name: "Product Strategist", ShortDesc: "Product vision and prioritization."},
		},
	})

	contents, err := s.handleRosterResource(context.Background(), mcplib.ReadResourceRequest{
		Params: mcplib.ReadResourceParams{URI: "roundtable://agents"},
	})
	if err != nil {
		t.Fatalf("resource handler error: %v", err)
	}
	text, ok := contents[0].(mcplib.TextResourceContents)
	if !ok {
		t.Fatal("expected TextResourceContents")
	}

	var members []roster.Specialist
	if err := json.Unmarshal([]byte(text.Text), &members); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if len(members) != 1 || members[0].Name != "Product Strategist" {
		t.Fatalf("unexpected roster: %+v", members)
	}
}
