package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/nerrad567/hubrelay/internal/audit"
)

// mockAuditRepo returns a fixed page and records the last filter.
type mockAuditRepo struct {
	last audit.Filter
	err  error
}

func (m *mockAuditRepo) Create(context.Context, *audit.AuditLog) error { return nil }

func (m *mockAuditRepo) List(_ context.Context, f audit.Filter) (*audit.ListResult, error) {
	m.last = f
	if m.err != nil {
		return nil, m.err
	}
	return &audit.ListResult{
		Logs:  []audit.AuditLog{{ID: "aud-1", Action: audit.ActionHubStarted, Source: audit.SourceHub}},
		Total: 1,
		Limit: f.Limit,
	}, nil
}

func TestListAuditLogs(t *testing.T) {
	repo := &mockAuditRepo{}
	h := newTestServer(t, Deps{Audit: repo})

	rec := get(t, h, "/debug/audit?action=hub_started&subject=x&limit=5&offset=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want := audit.Filter{Action: "hub_started", Subject: "x", Limit: 5, Offset: 2}
	if repo.last != want {
		t.Errorf("filter = %+v, want %+v", repo.last, want)
	}
	var body audit.ListResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body.Total != 1 || body.Logs[0].ID != "aud-1" {
		t.Errorf("body = %+v", body)
	}
}

func TestListAuditLogs_Errors(t *testing.T) {
	if rec := get(t, newTestServer(t, Deps{}), "/debug/audit"); rec.Code != http.StatusNotFound {
		t.Errorf("unconfigured status = %d, want 404", rec.Code)
	}
	h := newTestServer(t, Deps{Audit: &mockAuditRepo{err: errors.New("locked")}})
	if rec := get(t, h, "/debug/audit"); rec.Code != http.StatusInternalServerError {
		t.Errorf("failing repo status = %d, want 500", rec.Code)
	}
}
