package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auditflow/internal/clickup"
	"auditflow/internal/domain"
)

func newTestOrchestrator() *Orchestrator {
	o := New(nil, nil)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { return base }
	return o
}

func TestStartCreatesActiveAlphaProject(t *testing.T) {
	o := newTestOrchestrator()
	p, err := o.Start(context.Background(), StartRequest{
		Name:   "Acme ledger review",
		Client: "Acme",
		Type:   "audit_forensic",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(p.ID, "PRJ-") {
		t.Fatalf("unexpected project id %q", p.ID)
	}
	if p.Status != domain.ProjectActive || p.Phase != domain.PhaseAlpha {
		t.Fatalf("unexpected state: status=%s phase=%s", p.Status, p.Phase)
	}
	// project_started, 7 planned template tasks, sync_failed for the
	// missing tracker
	if len(p.Timeline) != 9 {
		t.Fatalf("expected 9 timeline entries, got %d", len(p.Timeline))
	}
	if m := o.Metrics(); m.Started != 1 || m.Active != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestStartRejectsEmptyNameAndUnknownType(t *testing.T) {
	o := newTestOrchestrator()
	if _, err := o.Start(context.Background(), StartRequest{Name: "  "}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if _, err := o.Start(context.Background(), StartRequest{Name: "x", Type: "bogus"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestStartDefaultsTypeAndPriority(t *testing.T) {
	o := newTestOrchestrator()
	p, err := o.Start(context.Background(), StartRequest{Name: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Type != "general" || p.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected defaults: type=%s priority=%s", p.Type, p.Priority)
	}
}

func TestFinishByIDArchivesProject(t *testing.T) {
	o := newTestOrchestrator()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { return start }
	p, err := o.Start(context.Background(), StartRequest{Name: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	o.Now = func() time.Time { return start.Add(90 * time.Minute) }

	done, err := o.Finish(context.Background(), p.ID, false)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.Status != domain.ProjectCompleted || done.Phase != domain.PhaseOmega {
		t.Fatalf("unexpected state: %+v", done)
	}
	if done.CompletedAt == "" {
		t.Fatal("expected CompletedAt to be set")
	}
	if _, err := o.Finish(context.Background(), p.ID, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for already finished project, got %v", err)
	}
	got, err := o.Get(p.ID)
	if err != nil {
		t.Fatalf("Get archived: %v", err)
	}
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("expected archived project, got %+v", got)
	}
	m := o.Metrics()
	if m.Completed != 1 || m.Active != 0 || m.Archived != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.AvgCompletionMinutes != 90 {
		t.Fatalf("expected avg 90 minutes, got %v", m.AvgCompletionMinutes)
	}
}

func TestFinishByNameMatchesEarliest(t *testing.T) {
	o := newTestOrchestrator()
	first, _ := o.Start(context.Background(), StartRequest{Name: "Orion audit phase one"})
	if _, err := o.Start(context.Background(), StartRequest{Name: "Orion audit phase two"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	done, err := o.Finish(context.Background(), "orion", false)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if done.ID != first.ID {
		t.Fatalf("expected earliest match %s, got %s", first.ID, done.ID)
	}
}

func TestFinishForceBypassesStatusCheck(t *testing.T) {
	o := newTestOrchestrator()
	p, _ := o.Start(context.Background(), StartRequest{Name: "x"})
	if _, err := o.Fail(p.ID, "tracker unreachable"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if _, err := o.Finish(context.Background(), p.ID, false); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
	if _, err := o.Finish(context.Background(), p.ID, true); err != nil {
		t.Fatalf("forced Finish: %v", err)
	}
}

func TestIncrementalMeanOverSeveralProjects(t *testing.T) {
	o := newTestOrchestrator()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	durations := []time.Duration{30 * time.Minute, 60 * time.Minute, 90 * time.Minute}
	for i, d := range durations {
		o.Now = func() time.Time { return start }
		p, err := o.Start(context.Background(), StartRequest{Name: fmt.Sprintf("p%d", i)})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		end := start.Add(d)
		o.Now = func() time.Time { return end }
		if _, err := o.Finish(context.Background(), p.ID, false); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	if m := o.Metrics(); m.AvgCompletionMinutes != 60 {
		t.Fatalf("expected mean 60, got %v", m.AvgCompletionMinutes)
	}
}

func TestArchiveEvictsOldest(t *testing.T) {
	o := newTestOrchestrator()
	var firstID string
	for i := 0; i < maxArchived+5; i++ {
		p, err := o.Start(context.Background(), StartRequest{Name: fmt.Sprintf("p%d", i)})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if i == 0 {
			firstID = p.ID
		}
		if _, err := o.Finish(context.Background(), p.ID, false); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	archived := o.Archived()
	if len(archived) != maxArchived {
		t.Fatalf("expected %d archived, got %d", maxArchived, len(archived))
	}
	if _, err := o.Get(firstID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected oldest project evicted, got %v", err)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	o := newTestOrchestrator()
	p, _ := o.Start(context.Background(), StartRequest{Name: "x"})
	p.Timeline[0].Action = "tampered"
	got, err := o.Get(p.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Timeline[0].Action != "project_started" {
		t.Fatal("expected internal state to be isolated from returned snapshot")
	}
}

func TestTemplatesCoverAllKinds(t *testing.T) {
	want := map[string]int{
		"audit_forensic": 7,
		"compliance":     5,
		"security":       5,
		"general":        4,
	}
	got := Templates()
	for kind, n := range want {
		if len(got[kind]) != n {
			t.Fatalf("template %s: expected %d tasks, got %d", kind, n, len(got[kind]))
		}
	}
}

type fakeNarrator struct {
	text string
	err  error
}

func (f fakeNarrator) GenerateReport(ctx context.Context, kind, clientName, projectName, description string) (string, error) {
	return f.text, f.err
}

func TestFinishClosesTrackerTaskWithNarrative(t *testing.T) {
	var closed bool
	var comment map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/task"):
			_ = json.NewEncoder(w).Encode(clickup.Task{ID: "t1"})
		case r.Method == http.MethodGet && r.URL.Path == "/task/t1":
			_ = json.NewEncoder(w).Encode(clickup.Task{ID: "t1", List: &clickup.List{ID: "list1"}})
		case r.Method == http.MethodPut && r.URL.Path == "/task/t1":
			closed = true
		case r.Method == http.MethodPost && r.URL.Path == "/task/t1/comment":
			_ = json.NewDecoder(r.Body).Decode(&comment)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	tracker := clickup.New("pk_test", "list1")
	tracker.SetBaseURL(srv.URL)
	o := New(tracker, nil)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { return base }
	o.SetNarrator(fakeNarrator{text: "All objectives met."})

	p, err := o.Start(context.Background(), StartRequest{Name: "Acme close-out", Client: "Acme"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done, err := o.Finish(context.Background(), p.ID, false)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	last := done.Timeline[len(done.Timeline)-1]
	if last.Action != "closing_summary" || last.Details != "All objectives met." {
		t.Fatalf("unexpected final timeline entry: %+v", last)
	}
	if !closed {
		t.Fatal("expected tracker task to be closed")
	}
	text, _ := comment["comment_text"].(string)
	if !strings.Contains(text, "All objectives met.") {
		t.Fatalf("unexpected closing comment: %q", text)
	}
}

func TestFinishSkipsNarrativeOnError(t *testing.T) {
	o := newTestOrchestrator()
	o.SetNarrator(fakeNarrator{err: errors.New("model unavailable")})
	p, err := o.Start(context.Background(), StartRequest{Name: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done, err := o.Finish(context.Background(), p.ID, false)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	last := done.Timeline[len(done.Timeline)-1]
	if last.Action != "project_completed" {
		t.Fatalf("expected no narrative entry, got %+v", last)
	}
}

func TestStartRecordsSyncFailureWithoutTracker(t *testing.T) {
	o := newTestOrchestrator()
	p, err := o.Start(context.Background(), StartRequest{Name: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Status != domain.ProjectActive {
		t.Fatalf("expected active project, got %s", p.Status)
	}
	var found bool
	for _, e := range p.Timeline {
		if e.Action == "sync_failed" && strings.Contains(e.Details, "not configured") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sync_failed timeline entry, got %+v", p.Timeline)
	}
}

func TestStartRecordsSyncFailureOnTrackerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	tracker := clickup.New("pk_test", "list1")
	tracker.SetBaseURL(srv.URL)
	o := New(tracker, nil)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { return base }

	p, err := o.Start(context.Background(), StartRequest{Name: "x"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Status != domain.ProjectActive {
		t.Fatalf("expected active project despite tracker error, got %s", p.Status)
	}
	var found bool
	for _, e := range p.Timeline {
		if e.Action == "sync_failed" && strings.Contains(e.Details, "tracker task creation") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sync_failed timeline entry, got %+v", p.Timeline)
	}
}

func TestStartCreatesTemplatedSubtasks(t *testing.T) {
	var subtasks []string
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/task/main1":
			_ = json.NewEncoder(w).Encode(clickup.Task{ID: "main1", List: &clickup.List{ID: "list1"}})
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/task"):
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			parent, _ := body["parent"].(string)
			if parent == "" {
				_ = json.NewEncoder(w).Encode(clickup.Task{ID: "main1"})
				return
			}
			if fail {
				fail = false
				http.Error(w, `{"err":"rate limited"}`, http.StatusTooManyRequests)
				return
			}
			name, _ := body["name"].(string)
			subtasks = append(subtasks, name)
			_ = json.NewEncoder(w).Encode(clickup.Task{ID: "sub", ParentID: parent})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	tracker := clickup.New("pk_test", "list1")
	tracker.SetBaseURL(srv.URL)
	o := New(tracker, nil)
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o.Now = func() time.Time { return base }

	p, err := o.Start(context.Background(), StartRequest{Name: "x", Client: "Acme"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// general template has 4 tasks; the first subtask create fails
	if len(subtasks) != 3 {
		t.Fatalf("expected 3 created subtasks after one failure, got %v", subtasks)
	}
	var failures, created int
	for _, e := range p.Timeline {
		switch e.Action {
		case "sync_failed":
			failures++
		case "subtask_created":
			created++
		}
	}
	if failures != 1 || created != 3 {
		t.Fatalf("expected 1 sync_failed and 3 subtask_created, got %d/%d: %+v", failures, created, p.Timeline)
	}
}
