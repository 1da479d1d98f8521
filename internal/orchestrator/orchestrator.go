// Package orchestrator manages project lifecycles: Alpha opens an
// engagement, Omega closes it. State is in-memory and mutex-guarded;
// the durable record lives in the event log and tracker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"auditflow/internal/clickup"
	"auditflow/internal/domain"
	"auditflow/internal/webhook"
)

// Completed projects are archived up to this many; older ones are
// evicted oldest-first.
const maxArchived = 100

var (
	ErrNotFound    = errors.New("orchestrator: project not found")
	ErrNotActive   = errors.New("orchestrator: project not active")
	ErrEmptyName   = errors.New("orchestrator: project name required")
	ErrUnknownKind = errors.New("orchestrator: unknown project type")
)

// StartRequest describes a new engagement.
type StartRequest struct {
	Name        string
	Client      string
	Type        string
	Priority    string
	Description string
}

// Metrics aggregates lifecycle outcomes. AvgCompletionMinutes is an
// incremental mean over completed projects.
type Metrics struct {
	Started              int     `json:"started"`
	Completed            int     `json:"completed"`
	Failed               int     `json:"failed"`
	Active               int     `json:"active"`
	Archived             int     `json:"archived"`
	AvgCompletionMinutes float64 `json:"avg_completion_minutes"`
}

// Narrator produces a closing narrative for a finished project.
// *aigen.Generator satisfies it.
type Narrator interface {
	GenerateReport(ctx context.Context, kind, clientName, projectName, description string) (string, error)
}

// Orchestrator owns all project state. All exported methods are safe
// for concurrent use.
type Orchestrator struct {
	tracker  *clickup.Client
	hooks    *webhook.Sender
	narrator Narrator

	Now func() time.Time

	mu       sync.Mutex
	projects map[string]*domain.Project
	order    []string
	archived []*domain.Project
	metrics  Metrics
}

// New builds an orchestrator. tracker and hooks may be nil; the
// corresponding side effects are then skipped.
func New(tracker *clickup.Client, hooks *webhook.Sender) *Orchestrator {
	return &Orchestrator{
		tracker:  tracker,
		hooks:    hooks,
		Now:      time.Now,
		projects: make(map[string]*domain.Project),
	}
}

// SetNarrator enables closing narratives on Finish.
func (o *Orchestrator) SetNarrator(n Narrator) { o.narrator = n }

// newProjectID builds ids like PRJ-LX2B4Q-A3F9: base36 timestamp plus
// a random suffix.
func (o *Orchestrator) newProjectID() string {
	ts := strings.ToUpper(strconv.FormatInt(o.Now().UnixMilli(), 36))
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("PRJ-%s-%s", ts, suffix)
}

// Start opens a new project in the alpha phase and plans its template
// tasks. Tracker and webhook side effects are best-effort.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*domain.Project, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrEmptyName
	}
	kind := req.Type
	if kind == "" {
		kind = "general"
	}
	tmpl, ok := Templates()[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	now := o.Now().UTC().Format(time.RFC3339)
	p := &domain.Project{
		ID:          o.newProjectID(),
		Name:        req.Name,
		Client:      req.Client,
		Type:        kind,
		Priority:    priority,
		Description: req.Description,
		Status:      domain.ProjectActive,
		Phase:       domain.PhaseAlpha,
		CreatedAt:   now,
		Timeline: []domain.TimelineEntry{
			{Action: "project_started", TS: now, Details: "alpha phase opened"},
		},
	}
	for _, task := range tmpl {
		p.Timeline = append(p.Timeline, domain.TimelineEntry{Action: "task_planned", TS: now, Details: task})
	}

	if o.tracker != nil && o.tracker.Configured() {
		task, err := o.tracker.CreateTask(ctx, clickup.TaskRequest{
			Name:        fmt.Sprintf("[%s] %s", strings.ToUpper(kind), req.Name),
			Description: req.Description,
			Priority:    priority,
			Urgency:     "within_days",
			Tags:        []string{"auditflow", kind},
		})
		if err != nil {
			log.Warn().Str("project", p.ID).Err(err).Msg("tracker task creation failed")
			p.Timeline = append(p.Timeline, domain.TimelineEntry{
				Action: "sync_failed", TS: now, Details: "tracker task creation: " + err.Error(),
			})
		} else {
			p.ExternalTaskRef = task.ID
			p.Timeline = append(p.Timeline, domain.TimelineEntry{Action: "task_created", TS: now, Details: task.ID})
			for _, name := range tmpl {
				sub, err := o.tracker.CreateSubtask(ctx, task.ID, clickup.TaskRequest{
					Name:        fmt.Sprintf("%s - %s", name, req.Client),
					Description: fmt.Sprintf("Project: %s\nClient: %s", req.Name, req.Client),
					Priority:    priority,
					Urgency:     "within_days",
					Tags:        []string{"auditflow", kind},
				})
				if err != nil {
					log.Warn().Str("project", p.ID).Str("subtask", name).Err(err).Msg("subtask creation failed")
					p.Timeline = append(p.Timeline, domain.TimelineEntry{
						Action: "sync_failed", TS: now, Details: "subtask " + name + ": " + err.Error(),
					})
					continue
				}
				p.Timeline = append(p.Timeline, domain.TimelineEntry{Action: "subtask_created", TS: now, Details: sub.ID})
			}
		}
	} else {
		p.Timeline = append(p.Timeline, domain.TimelineEntry{
			Action: "sync_failed", TS: now, Details: "tracker not configured",
		})
	}

	o.mu.Lock()
	o.projects[p.ID] = p
	o.order = append(o.order, p.ID)
	o.metrics.Started++
	o.mu.Unlock()

	if o.hooks != nil {
		if err := o.hooks.TriggerAlpha(map[string]any{
			"project_id": p.ID,
			"name":       p.Name,
			"client":     p.Client,
			"type":       p.Type,
			"priority":   priority,
		}); err != nil && !errors.Is(err, webhook.ErrUnknownChannel) {
			log.Warn().Str("project", p.ID).Err(err).Msg("alpha workflow trigger failed")
			o.mu.Lock()
			p.Timeline = append(p.Timeline, domain.TimelineEntry{
				Action: "sync_failed", TS: now, Details: "alpha trigger: " + err.Error(),
			})
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	out := snapshot(p)
	o.mu.Unlock()
	return out, nil
}

// Finish closes a project by id, or by the first active project whose
// name contains the query. force completes a project regardless of its
// current status.
func (o *Orchestrator) Finish(ctx context.Context, idOrName string, force bool) (*domain.Project, error) {
	o.mu.Lock()
	p := o.lookupLocked(idOrName)
	if p == nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrName)
	}
	if p.Status != domain.ProjectActive && !force {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrNotActive, p.ID, p.Status)
	}
	now := o.Now().UTC()
	p.Status = domain.ProjectCompleted
	p.Phase = domain.PhaseOmega
	p.CompletedAt = now.Format(time.RFC3339)
	p.Timeline = append(p.Timeline, domain.TimelineEntry{
		Action: "project_completed", TS: p.CompletedAt, Details: "omega phase closed",
	})

	delete(o.projects, p.ID)
	o.removeFromOrderLocked(p.ID)
	o.archived = append(o.archived, p)
	if len(o.archived) > maxArchived {
		o.archived = o.archived[len(o.archived)-maxArchived:]
	}

	o.metrics.Completed++
	if created, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		minutes := now.Sub(created).Minutes()
		n := float64(o.metrics.Completed)
		o.metrics.AvgCompletionMinutes = (o.metrics.AvgCompletionMinutes*(n-1) + minutes) / n
	}
	taskRef := p.ExternalTaskRef
	o.mu.Unlock()

	var narrative string
	if o.narrator != nil {
		text, err := o.narrator.GenerateReport(ctx, "closing_summary", p.Client, p.Name, p.Description)
		if err != nil {
			log.Warn().Str("project", p.ID).Err(err).Msg("closing narrative generation failed")
		} else {
			narrative = text
		}
	}

	if o.tracker != nil && taskRef != "" {
		if err := o.tracker.UpdateTaskStatus(ctx, taskRef, "complete"); err != nil {
			log.Warn().Str("project", p.ID).Str("task", taskRef).Err(err).Msg("tracker task close failed")
		}
		comment := fmt.Sprintf("Project completed and closed by the omega flow at %s.", p.CompletedAt)
		if narrative != "" {
			comment += "\n\n" + narrative
		}
		if err := o.tracker.AddComment(ctx, taskRef, comment); err != nil {
			log.Warn().Str("project", p.ID).Str("task", taskRef).Err(err).Msg("closing comment failed")
		}
	}

	o.mu.Lock()
	if narrative != "" {
		p.Timeline = append(p.Timeline, domain.TimelineEntry{
			Action: "closing_summary", TS: p.CompletedAt, Details: narrative,
		})
	}
	o.mu.Unlock()

	if o.hooks != nil {
		if err := o.hooks.TriggerOmega(map[string]any{
			"project_id":   p.ID,
			"name":         p.Name,
			"client":       p.Client,
			"completed_at": p.CompletedAt,
		}); err != nil && !errors.Is(err, webhook.ErrUnknownChannel) {
			log.Warn().Str("project", p.ID).Err(err).Msg("omega workflow trigger failed")
			o.mu.Lock()
			p.Timeline = append(p.Timeline, domain.TimelineEntry{
				Action: "sync_failed", TS: p.CompletedAt, Details: "omega trigger: " + err.Error(),
			})
			o.mu.Unlock()
		}
	}

	o.mu.Lock()
	out := snapshot(p)
	o.mu.Unlock()
	return out, nil
}

// Fail marks a project failed without archiving it.
func (o *Orchestrator) Fail(id, reason string) (*domain.Project, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Status = domain.ProjectFailed
	p.Error = reason
	p.Timeline = append(p.Timeline, domain.TimelineEntry{
		Action: "project_failed", TS: o.Now().UTC().Format(time.RFC3339), Details: reason,
	})
	o.metrics.Failed++
	return snapshot(p), nil
}

// lookupLocked resolves id first, then the earliest-started project
// whose name contains the query, case-insensitive.
func (o *Orchestrator) lookupLocked(idOrName string) *domain.Project {
	if p, ok := o.projects[idOrName]; ok {
		return p
	}
	needle := strings.ToLower(strings.TrimSpace(idOrName))
	if needle == "" {
		return nil
	}
	for _, id := range o.order {
		p := o.projects[id]
		if p != nil && strings.Contains(strings.ToLower(p.Name), needle) {
			return p
		}
	}
	return nil
}

func (o *Orchestrator) removeFromOrderLocked(id string) {
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

// Get returns a project by id, searching active then archived.
func (o *Orchestrator) Get(id string) (*domain.Project, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.projects[id]; ok {
		return snapshot(p), nil
	}
	for _, p := range o.archived {
		if p.ID == id {
			return snapshot(p), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Active returns active projects in start order.
func (o *Orchestrator) Active() []*domain.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Project, 0, len(o.order))
	for _, id := range o.order {
		if p, ok := o.projects[id]; ok {
			out = append(out, snapshot(p))
		}
	}
	return out
}

// Archived returns completed projects, oldest first.
func (o *Orchestrator) Archived() []*domain.Project {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*domain.Project, len(o.archived))
	for i, p := range o.archived {
		out[i] = snapshot(p)
	}
	return out
}

// Metrics returns a snapshot of lifecycle counters.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	m := o.metrics
	m.Active = len(o.projects)
	m.Archived = len(o.archived)
	return m
}

func snapshot(p *domain.Project) *domain.Project {
	cp := *p
	cp.Timeline = append([]domain.TimelineEntry(nil), p.Timeline...)
	cp.Reports = append([]string(nil), p.Reports...)
	return &cp
}
