package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Strob0t/Roundtable/internal/domain"
)

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "not found uses fallback message",
			err:        domain.ErrNotFound,
			wantStatus: http.StatusNotFound,
			wantBody:   "thread not found",
		},
		{
			name:       "conflict surfaces wrapped message",
			err:        fmt.Errorf("%w: thread t1 has a pending change-set awaiting decision", domain.ErrConflict),
			wantStatus: http.StatusConflict,
			wantBody:   "thread t1 has a pending change-set awaiting decision",
		},
		{
			name:       "validation surfaces wrapped message",
			err:        fmt.Errorf("%w: stage_edits: unknown doc_id \"nope\"", domain.ErrValidation),
			wantStatus: http.StatusBadRequest,
			wantBody:   `stage_edits: unknown doc_id "nope"`,
		},
		{
			name:       "unknown error stays generic",
			err:        fmt.Errorf("pool exhausted"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   "internal server error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tc.err, "thread not found")

			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal body: %v", err)
			}
			if body.Error != tc.wantBody {
				t.Errorf("error = %q, want %q", body.Error, tc.wantBody)
			}
		})
	}
}

func TestRequireField(t *testing.T) {
	rec := httptest.NewRecorder()
	if requireField(rec, "", "thread id") {
		t.Fatal("empty field should fail")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "thread id is required") {
		t.Errorf("body = %q, want field name in message", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if !requireField(rec, "t1", "thread id") {
		t.Fatal("non-empty field should pass")
	}
}

func TestReadJSONBodyLimit(t *testing.T) {
	big := strings.Repeat("x", 2048)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"`+big+`"}`))
	rec := httptest.NewRecorder()

	type payload struct {
		Message string `json:"message"`
	}
	if _, ok := readJSON[payload](rec, req, 64); ok {
		t.Fatal("oversized body should fail")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
