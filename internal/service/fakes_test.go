package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/Roundtable/internal/domain"
	"github.com/Strob0t/Roundtable/internal/domain/changeset"
	"github.com/Strob0t/Roundtable/internal/domain/conversation"
	"github.com/Strob0t/Roundtable/internal/domain/document"
	"github.com/Strob0t/Roundtable/internal/domain/roster"
	"github.com/Strob0t/Roundtable/internal/domain/run"
	"github.com/Strob0t/Roundtable/internal/port/llm"
	"github.com/Strob0t/Roundtable/internal/port/messagequeue"
	"github.com/Strob0t/Roundtable/internal/port/specialist"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory database.Store for engine and service tests.
type fakeStore struct {
	mu           sync.Mutex
	threads      map[string]bool
	bootstrapped map[string]bool
	messages     []conversation.Message
	docs         map[string]map[string]document.Document
	revisions    map[string][]document.Revision
	changeSets   map[string]*changeset.Detail
	runs         map[string]*run.Run
	statuses     []run.AgentStatusEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		threads:      make(map[string]bool),
		bootstrapped: make(map[string]bool),
		docs:         make(map[string]map[string]document.Document),
		revisions:    make(map[string][]document.Revision),
		changeSets:   make(map[string]*changeset.Detail),
		runs:         make(map[string]*run.Run),
	}
}

func (f *fakeStore) EnsureThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads[threadID] = true
	return nil
}

func (f *fakeStore) ThreadDocsBootstrapped(ctx context.Context, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bootstrapped[threadID], nil
}

func (f *fakeStore) MarkDocsBootstrapped(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstrapped[threadID] = true
	return nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, m *conversation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.messages {
		if existing.ID == m.ID {
			return nil
		}
	}
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeStore) ListMessages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Message
	for _, m := range f.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) SeedDocuments(ctx context.Context, threadID string, docs []document.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[threadID] == nil {
		f.docs[threadID] = make(map[string]document.Document)
	}
	for _, d := range docs {
		if _, exists := f.docs[threadID][d.DocID]; exists {
			continue
		}
		d.ThreadID = threadID
		f.docs[threadID][d.DocID] = d
	}
	return nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, threadID string) ([]document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Document
	for _, d := range f.docs[threadID] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, threadID, docID string) (*document.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[threadID][docID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", docID, domain.ErrNotFound)
	}
	return &d, nil
}

func (f *fakeStore) ListDocumentRevisions(ctx context.Context, threadID, docID string) ([]document.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []document.Revision
	for _, r := range f.revisions[threadID] {
		if r.DocID == docID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateChangeSet(ctx context.Context, cs *changeset.ChangeSet, changes []changeset.DocChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.changeSets[cs.ID]; exists {
		return nil
	}
	cp := *cs
	f.changeSets[cs.ID] = &changeset.Detail{
		ChangeSet:  cp,
		Docs:       cp.DocIDs(),
		DocChanges: changes,
	}
	return nil
}

func (f *fakeStore) SetChangeSetStatus(ctx context.Context, changeSetID string, status changeset.Status, decisionNote string, decided bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.changeSets[changeSetID]
	if !ok {
		return fmt.Errorf("change-set %s: %w", changeSetID, domain.ErrNotFound)
	}
	d.Status = status
	if decisionNote != "" {
		d.DecisionNote = decisionNote
	}
	if decided && d.DecidedAt == nil {
		now := time.Now().UTC()
		d.DecidedAt = &now
	}
	return nil
}

func (f *fakeStore) AppendChangeSetReview(ctx context.Context, changeSetID string, review changeset.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.changeSets[changeSetID]
	if !ok {
		return fmt.Errorf("change-set %s: %w", changeSetID, domain.ErrNotFound)
	}
	d.Reviews = append(d.Reviews, review)
	return nil
}

func (f *fakeStore) ListChangeSets(ctx context.Context, threadID string) ([]changeset.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []changeset.Detail
	for _, d := range f.changeSets {
		if d.ThreadID == threadID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) GetChangeSet(ctx context.Context, threadID, changeSetID string) (*changeset.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.changeSets[changeSetID]
	if !ok || d.ThreadID != threadID {
		return nil, fmt.Errorf("change-set %s: %w", changeSetID, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) PendingChangeSet(ctx context.Context, threadID string) (*changeset.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.changeSets {
		if d.ThreadID == threadID && d.Status == changeset.StatusPending {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("pending change-set: %w", domain.ErrNotFound)
}

func (f *fakeStore) ApplyChangeSet(ctx context.Context, threadID string, cs *changeset.ChangeSet) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var applied []string
	for _, e := range changeset.Dedupe(cs.Edits) {
		d, ok := f.docs[threadID][e.DocID]
		if !ok {
			continue
		}
		if d.Content != e.NewContent {
			d.Version++
			f.revisions[threadID] = append(f.revisions[threadID], document.Revision{
				ThreadID:    threadID,
				DocID:       e.DocID,
				Version:     d.Version,
				Content:     e.NewContent,
				Summary:     cs.Summary,
				UpdatedBy:   cs.CreatedBy,
				ChangeSetID: cs.ID,
				CreatedAt:   time.Now().UTC(),
			})
		}
		d.Content = e.NewContent
		d.Description = cs.Summary
		d.UpdatedBy = cs.CreatedBy
		f.docs[threadID][e.DocID] = d
		applied = append(applied, e.DocID)
	}
	if d, ok := f.changeSets[cs.ID]; ok {
		d.Status = changeset.StatusApplied
	}
	return applied, nil
}

func (f *fakeStore) CreateRun(ctx context.Context, r *run.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.runs[r.ID]; exists {
		return nil
	}
	cp := *r
	f.runs[r.ID] = &cp
	return nil
}

func (f *fakeStore) SetRunStatus(ctx context.Context, runID string, status run.Status, errMsg string, completed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, domain.ErrNotFound)
	}
	r.Status = status
	if errMsg != "" {
		r.Error = errMsg
	}
	if completed && r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	return nil
}

func (f *fakeStore) ListRuns(ctx context.Context, threadID string) ([]run.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []run.Run
	for _, r := range f.runs {
		if r.ThreadID == threadID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (f *fakeStore) AppendAgentStatus(ctx context.Context, ev *run.AgentStatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, *ev)
	return nil
}

func (f *fakeStore) LatestAgentStatuses(ctx context.Context, threadID string) ([]run.AgentStatusEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := make(map[string]run.AgentStatusEvent)
	for _, ev := range f.statuses {
		if ev.ThreadID == threadID {
			latest[ev.Agent] = ev
		}
	}
	out := make([]run.AgentStatusEvent, 0, len(latest))
	for _, ev := range latest {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out, nil
}

func (f *fakeStore) getRun(runID string) *run.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.runs[runID]; ok {
		cp := *r
		return &cp
	}
	return nil
}

// fakeCheckpoint keeps one serialized state per thread, like the durable store.
type fakeCheckpoint struct {
	mu     sync.Mutex
	states map[string][]byte
	saves  int
}

func newFakeCheckpoint() *fakeCheckpoint {
	return &fakeCheckpoint{states: make(map[string][]byte)}
}

func (f *fakeCheckpoint) Save(ctx context.Context, st *run.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[st.ThreadID] = data
	f.saves++
	return nil
}

func (f *fakeCheckpoint) Load(ctx context.Context, threadID string) (*run.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.states[threadID]
	if !ok {
		return nil, fmt.Errorf("checkpoint %s: %w", threadID, domain.ErrNotFound)
	}
	var st run.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (f *fakeCheckpoint) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

// fakeLLM returns scripted completion contents in order.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fakeLLM: no scripted response left")
	}
	content := f.responses[0]
	f.responses = f.responses[1:]
	return &llm.Response{Content: content, FinishReason: "stop"}, nil
}

// fakeQueue records published subjects.
type fakeQueue struct {
	mu        sync.Mutex
	published []string
}

func (f *fakeQueue) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, subject)
	return nil
}

func (f *fakeQueue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (f *fakeQueue) Drain() error      { return nil }
func (f *fakeQueue) Close() error      { return nil }
func (f *fakeQueue) IsConnected() bool { return true }

func (f *fakeQueue) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	copy(out, f.published)
	return out
}

// fakeWorker is a scripted specialist.
type fakeWorker struct {
	spec    roster.Specialist
	outcome *specialist.Outcome
	err     error
	calls   int
}

func (f *fakeWorker) Specialist() roster.Specialist { return f.spec }

func (f *fakeWorker) Run(ctx context.Context, st *run.State) (*specialist.Outcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}
