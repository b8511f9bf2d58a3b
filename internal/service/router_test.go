package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/routing"
	"github.com/Strob0t/Roundtable/internal/domain/run"
)

func testRoster() *roster.Roster {
	return roster.New(
		roster.Specialist{Name: "Product Strategist", ShortDesc: "Product strategy lead."},
		roster.Specialist{Name: "Devil's Advocate", ShortDesc: "Brutally honest critic."},
	)
}

func routerState() *run.State {
	st := run.NewState("t1", "r1", 4, nil)
	st.AppendMessage(conversation.Message{Role: conversation.RoleUser, Content: "pressure-test my idea"})
	return st
}

func TestRouterDecideDelegate(t *testing.T) {
	client := &fakeLLM{responses: []string{
		decisionJSON("delegate", "devils_advocate", "Bringing in the critic."),
	}}
	r, err := NewRouterService(client, testRoster(), "test-model", 512, testLogger())
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	d := r.Decide(context.Background(), routerState())
	if d.Action != routing.ActionDelegate {
		t.Fatalf("expected delegate, got %s", d.Action)
	}
	if d.TargetAgent != "Devil's Advocate" {
		t.Fatalf("target must resolve to the canonical roster name, got %q", d.TargetAgent)
	}
}

func TestRouterDecideUnknownTargetDowngrades(t *testing.T) {
	client := &fakeLLM{responses: []string{
		decisionJSON("delegate", "Chief Vibes Officer", "Delegating."),
	}}
	r, err := NewRouterService(client, testRoster(), "test-model", 512, testLogger())
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	d := r.Decide(context.Background(), routerState())
	if d.Action != routing.ActionRespond {
		t.Fatalf("unknown target must downgrade to respond, got %s", d.Action)
	}
	if d.TargetAgent != "" {
		t.Fatalf("downgraded decision must clear the target, got %q", d.TargetAgent)
	}
}

func TestRouterDecideFallbackOnError(t *testing.T) {
	client := &fakeLLM{err: errors.New("upstream 502")}
	r, err := NewRouterService(client, testRoster(), "test-model", 512, testLogger())
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	d := r.Decide(context.Background(), routerState())
	if d.Action != routing.ActionRespond {
		t.Fatalf("fallback must respond, got %s", d.Action)
	}
	if d.Rationale != routing.FallbackRationale {
		t.Fatalf("expected fallback rationale, got %q", d.Rationale)
	}
}

func TestRouterDecideFallbackOnGarbage(t *testing.T) {
	client := &fakeLLM{responses: []string{"this is not json"}}
	r, err := NewRouterService(client, testRoster(), "test-model", 512, testLogger())
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	d := r.Decide(context.Background(), routerState())
	if d.Rationale != routing.FallbackRationale {
		t.Fatalf("expected fallback rationale, got %q", d.Rationale)
	}
}

func TestRouterRequestShape(t *testing.T) {
	client := &fakeLLM{responses: []string{decisionJSON("respond", "", "Hi.")}}
	r, err := NewRouterService(client, testRoster(), "test-model", 512, testLogger())
	if err != nil {
		t.Fatalf("router: %v", err)
	}

	st := routerState()
	st.AppendMessage(conversation.Message{Role: conversation.RoleTool, Content: "tool output", ToolName: "stage_edits"})
	r.Decide(context.Background(), st)

	req := client.requests[0]
	if req.ResponseFormat == nil || req.ResponseFormat.Name != "routing_decision" {
		t.Fatalf("expected routing_decision response format, got %+v", req.ResponseFormat)
	}
	if req.Messages[0].Role != "system" {
		t.Fatal("system prompt must lead the request")
	}
	if !strings.Contains(req.Messages[0].Content, "Devil's Advocate") {
		t.Fatal("system prompt must list the roster")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "assistant" {
		t.Fatalf("tool messages fold into the assistant role, got %q", last.Role)
	}
}
