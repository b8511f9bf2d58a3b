package service

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"log/slog"
	"text/template"

	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/routing"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/llm"
)

// RouterAgent is the roster-external name the orchestrator acts under.
const RouterAgent = "maestro"

//go:embed templates/router_system.tmpl
var routerSystemTmpl string

var routerTmpl = template.Must(template.New("router_system").Parse(routerSystemTmpl))

type routerPromptData struct {
	RouterName  string
	Specialists []roster.Specialist
}

// routingSchema is the JSON schema requested from the model for the per-turn
// routing decision.
var routingSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"user_message": {"type": "string"},
		"action": {"type": "string", "enum": ["delegate", "respond", "stop"]},
		"target_agent": {"type": ["string", "null"]},
		"rationale": {"type": "string"}
	},
	"required": ["user_message", "action"],
	"additionalProperties": false
}`)

// RouterService produces one routing decision per turn: the structured model
// output, normalized against the roster so the result is always actionable.
type RouterService struct {
	llm       llm.Client
	roster    *roster.Roster
	model     string
	maxTokens int
	log       *slog.Logger

	systemPrompt string
}

// NewRouterService builds the router over the given roster. The system prompt
// is rendered once; the roster is fixed per deployment.
func NewRouterService(client llm.Client, r *roster.Roster, model string, maxTokens int, log *slog.Logger) (*RouterService, error) {
	var buf bytes.Buffer
	if err := routerTmpl.Execute(&buf, routerPromptData{
		RouterName:  RouterAgent,
		Specialists: r.Members(),
	}); err != nil {
		return nil, err
	}
	return &RouterService{
		llm:          client,
		roster:       r,
		model:        model,
		maxTokens:    maxTokens,
		log:          log,
		systemPrompt: buf.String(),
	}, nil
}

// Decide runs one router turn over the current history. It never fails: any
// model or parse error degrades to the fallback respond decision.
func (s *RouterService) Decide(ctx context.Context, st *run.State) routing.Decision {
	req := llm.Request{
		Model:     s.model,
		Messages:  s.buildMessages(st),
		MaxTokens: s.maxTokens,
		ResponseFormat: &llm.ResponseFormat{
			Name:   "routing_decision",
			Schema: routingSchema,
		},
	}

	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		s.log.Warn("router completion failed, using fallback",
			"thread_id", st.ThreadID, "run_id", st.RunID, "error", err)
		return routing.Fallback()
	}

	d := routing.Normalize(json.RawMessage(resp.Content), s.roster)
	s.log.Info("routing decision",
		"thread_id", st.ThreadID,
		"run_id", st.RunID,
		"action", string(d.Action),
		"target_agent", d.TargetAgent,
		"rationale", d.Rationale)
	return d
}

// buildMessages maps the run history into the model request: system prompt
// first, then the conversation in order. Tool messages are folded into the
// assistant role so the transcript stays a plain chat.
func (s *RouterService) buildMessages(st *run.State) []llm.Message {
	msgs := make([]llm.Message, 0, len(st.Messages)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: s.systemPrompt})
	for _, m := range st.Messages {
		role := string(m.Role)
		if m.Role == conversation.RoleTool {
			role = string(conversation.RoleAssistant)
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	return msgs
}
