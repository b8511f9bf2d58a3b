// Package persona implements the roster specialists as single-turn LLM
// workers: each persona carries its own system prompt and stages document
// edits through structured output.
package persona

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"text/template"

	"github.com/google/uuid"

	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/document"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/llm"
	"github.com/Strob0t/Roundtable/internal/port/specialist"
)

//go:embed templates/persona_system.tmpl
var personaSystemTmpl string

var personaTmpl = template.Must(template.New("persona_system").Parse(personaSystemTmpl))

// Definition is the static identity of one persona: its roster entry plus the
// prompt sections that shape its behavior.
type Definition struct {
	Name         string
	ShortDesc    string
	CoreValues   string
	Goals        string
	StyleAndTone string
}

type personaPromptData struct {
	Definition
	Docs []document.Document
}

// turnSchema is the structured output contract of one specialist turn.
var turnSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"messages": {"type": "array", "items": {"type": "string"}},
		"edits": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"doc_id": {"type": "string"},
					"new_content": {"type": "string"}
				},
				"required": ["doc_id", "new_content"],
				"additionalProperties": false
			}
		},
		"summary": {"type": "string"}
	},
	"required": ["messages"],
	"additionalProperties": false
}`)

type turnOutput struct {
	Messages []string               `json:"messages"`
	Edits    []changeset.StagedEdit `json:"edits"`
	Summary  string                 `json:"summary"`
}

// Worker runs one persona as a delegatable specialist.
type Worker struct {
	def       Definition
	llm       llm.Client
	model     string
	maxTokens int
	log       *slog.Logger
}

// NewWorker builds a persona worker over the shared model client.
func NewWorker(def Definition, client llm.Client, model string, maxTokens int, log *slog.Logger) *Worker {
	return &Worker{def: def, llm: client, model: model, maxTokens: maxTokens, log: log}
}

// Specialist returns the worker's roster entry.
func (w *Worker) Specialist() roster.Specialist {
	return roster.Specialist{Name: w.def.Name, ShortDesc: w.def.ShortDesc}
}

// Run executes one persona turn: system prompt, current document contents,
// then the conversation so far. Staged edits in the output are validated
// against the thread's documents before they reach the engine.
func (w *Worker) Run(ctx context.Context, st *run.State) (*specialist.Outcome, error) {
	prompt, err := w.systemPrompt(st)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(st.Messages)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: prompt})
	msgs = append(msgs, llm.Message{Role: "system", Content: docsContext(st)})
	for _, m := range st.Messages {
		role := string(m.Role)
		if m.Role == conversation.RoleTool {
			role = string(conversation.RoleAssistant)
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}

	resp, err := w.llm.Complete(ctx, llm.Request{
		Model:     w.model,
		Messages:  msgs,
		MaxTokens: w.maxTokens,
		ResponseFormat: &llm.ResponseFormat{
			Name:   "specialist_turn",
			Schema: turnSchema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", w.def.Name, err)
	}

	var out turnOutput
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, fmt.Errorf("%s structured output: %w", w.def.Name, err)
	}

	outcome := &specialist.Outcome{
		Messages: out.Messages,
		By:       w.def.Name,
	}

	if len(out.Edits) == 0 {
		return outcome, nil
	}

	for _, e := range out.Edits {
		if !st.KnownDoc(e.DocID) {
			return nil, fmt.Errorf("%w: stage_edits: unknown doc_id %q", domain.ErrValidation, e.DocID)
		}
	}

	outcome.StagedEdits = out.Edits
	outcome.Summary = out.Summary

	docIDs := make([]string, 0, len(out.Edits))
	for _, e := range out.Edits {
		docIDs = append(docIDs, e.DocID)
	}
	args, _ := json.Marshal(map[string]any{"doc_ids": docIDs, "summary": out.Summary})
	outcome.ToolCalls = []specialist.ToolCall{{
		ID:     uuid.NewString(),
		Name:   "stage_edits",
		Args:   args,
		Result: fmt.Sprintf("staged %d edit(s) for approval", len(out.Edits)),
	}}

	w.log.Info("specialist staged edits",
		"agent", w.def.Name,
		"thread_id", st.ThreadID,
		"run_id", st.RunID,
		"docs", docIDs)
	return outcome, nil
}

func (w *Worker) systemPrompt(st *run.State) (string, error) {
	docs := make([]document.Document, 0, len(st.Docs))
	for _, d := range st.Docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })

	var buf bytes.Buffer
	if err := personaTmpl.Execute(&buf, personaPromptData{Definition: w.def, Docs: docs}); err != nil {
		return "", fmt.Errorf("persona prompt: %w", err)
	}
	return buf.String(), nil
}

// docsContext renders the current content of every shared document so the
// persona edits against the committed versions, not stale memory.
func docsContext(st *run.State) string {
	ids := make([]string, 0, len(st.Docs))
	for id := range st.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var buf bytes.Buffer
	buf.WriteString("# Current Documents\n")
	for _, id := range ids {
		d := st.Docs[id]
		fmt.Fprintf(&buf, "\n## %s (id: %s, version %d)\n", d.Title, d.DocID, d.Version)
		if d.Content == "" {
			buf.WriteString("(no content yet)\n")
			continue
		}
		buf.WriteString(d.Content)
		buf.WriteString("\n")
	}
	return buf.String()
}
