// Package agent analyzes inbound requests, decides and validates
// actions, executes them through the adapters and learns from the
// outcomes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"auditflow/internal/config"
	"auditflow/internal/domain"
)

// Analyzer produces the raw model classification. Implemented by
// aigen; a nil Analyzer means heuristics only.
type Analyzer interface {
	AnalyzeRequest(ctx context.Context, input string) (string, error)
}

var (
	ErrInactive       = errors.New("agent: stopped")
	ErrEmptyInput     = errors.New("agent: empty request")
	ErrBadMode        = errors.New("agent: invalid mode")
	ErrBadThreshold   = errors.New("agent: threshold out of range")
	ErrUnknownCommand = errors.New("agent: unknown command")
)

// ProcessResult is the full outcome of one request.
type ProcessResult struct {
	RequestID   string                   `json:"request_id"`
	Mode        string                   `json:"mode"`
	Analysis    domain.Analysis          `json:"analysis"`
	Actions     []domain.Action          `json:"actions"`
	Results     []domain.ExecutionResult `json:"results"`
	SuccessRate float64                  `json:"success_rate"`
	ProcessedAt string                   `json:"processed_at"`
}

// Status is the agent's operational snapshot.
type Status struct {
	Active              bool    `json:"active"`
	Mode                string  `json:"mode"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	Processed           int     `json:"processed"`
	HistorySize         int     `json:"history_size"`
	PatternCount        int     `json:"pattern_count"`
	UptimeSeconds       int64   `json:"uptime_seconds"`
	StartedAt           string  `json:"started_at"`
}

// Learning exposes the pattern store for inspection.
type Learning struct {
	Patterns map[string]domain.Pattern `json:"patterns"`
	History  []domain.ExecutionRecord  `json:"history"`
}

// Agent coordinates one request pipeline at a time per call; all
// state access is mutex-guarded so calls may overlap.
type Agent struct {
	analyzer Analyzer
	exec     *Executor
	store    *patternStore

	Now func() time.Time

	mu        sync.Mutex
	mode      string
	threshold float64
	active    bool
	processed int
	startedAt time.Time
}

// New builds an agent. analyzer may be nil.
func New(analyzer Analyzer, exec *Executor, mode string, threshold float64) *Agent {
	if !config.ValidMode(mode) {
		mode = config.ModeAutonomous
	}
	if threshold <= 0 || threshold > 1 {
		threshold = config.DefaultConfidenceThreshold
	}
	a := &Agent{
		analyzer:  analyzer,
		exec:      exec,
		store:     newPatternStore(),
		Now:       time.Now,
		mode:      mode,
		threshold: threshold,
		active:    true,
	}
	a.startedAt = a.Now()
	return a
}

// Process runs the full pipeline for one request. A panic anywhere in
// the pipeline is converted to an error so one bad request cannot take
// the service down.
func (a *Agent) Process(ctx context.Context, input, requestID string) (result *ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent: panic during processing: %v", r)
			log.Error().Str("request_id", requestID).Interface("panic", r).Msg("request processing panicked")
		}
	}()

	if input == "" {
		return nil, ErrEmptyInput
	}
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return nil, ErrInactive
	}
	mode := a.mode
	threshold := a.threshold
	a.mu.Unlock()

	if requestID == "" {
		requestID = uuid.NewString()
	}

	analysis := a.analyze(ctx, input, requestID)
	actions := validateActions(decideActions(analysis), analysis, threshold)
	if mode == config.ModeSupervised {
		for i := range actions {
			if actions[i].ValidationMethod == domain.ValidationAutomatic {
				actions[i].Validated = false
				actions[i].ValidationMethod = domain.ValidationManualReview
				actions[i].Reason = "supervised mode"
			}
		}
	}

	var results []domain.ExecutionResult
	if mode == config.ModeManual {
		results = make([]domain.ExecutionResult, len(actions))
		for i, action := range actions {
			results[i] = domain.ExecutionResult{
				Action: action.Kind,
				Status: domain.ResultSkipped,
				Detail: map[string]any{"reason": "manual mode"},
			}
		}
	} else {
		results = a.exec.Execute(ctx, actions, analysis, input)
	}

	rate := successRate(results)
	a.exec.syncActivity(requestID, results)
	a.store.Record(domain.ExecutionRecord{
		RequestID:   requestID,
		TS:          a.Now().UTC().Format(time.RFC3339),
		Input:       input,
		Type:        analysis.Type,
		Priority:    analysis.Priority,
		ActionCount: len(actions),
		SuccessRate: rate,
		Confidence:  analysis.Confidence,
	})
	a.mu.Lock()
	a.processed++
	a.mu.Unlock()

	return &ProcessResult{
		RequestID:   requestID,
		Mode:        mode,
		Analysis:    analysis,
		Actions:     actions,
		Results:     results,
		SuccessRate: rate,
		ProcessedAt: a.Now().UTC().Format(time.RFC3339),
	}, nil
}

// analyze asks the model and falls back to heuristics on any failure.
func (a *Agent) analyze(ctx context.Context, input, requestID string) domain.Analysis {
	if a.analyzer == nil {
		return fallbackAnalysis(input)
	}
	raw, err := a.analyzer.AnalyzeRequest(ctx, input)
	if err != nil {
		log.Warn().Str("request_id", requestID).Err(err).Msg("model analysis failed, using heuristics")
		return fallbackAnalysis(input)
	}
	analysis, err := parseAnalysis(raw)
	if err != nil {
		log.Warn().Str("request_id", requestID).Err(err).Msg("model response unparseable, using heuristics")
		return fallbackAnalysis(input)
	}
	return analysis
}

// successRate is completed over executed; skipped actions do not count
// against it.
func successRate(results []domain.ExecutionResult) float64 {
	executed, completed := 0, 0
	for _, r := range results {
		switch r.Status {
		case domain.ResultCompleted:
			executed++
			completed++
		case domain.ResultFailed:
			executed++
		}
	}
	if executed == 0 {
		return 0
	}
	return float64(completed) / float64(executed)
}

// Status returns the operational snapshot.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Active:              a.active,
		Mode:                a.mode,
		ConfidenceThreshold: a.threshold,
		Processed:           a.processed,
		HistorySize:         a.store.Size(),
		PatternCount:        len(a.store.Patterns()),
		UptimeSeconds:       int64(a.Now().Sub(a.startedAt).Seconds()),
		StartedAt:           a.startedAt.UTC().Format(time.RFC3339),
	}
}

// Learning returns the pattern store contents.
func (a *Agent) Learning() Learning {
	return Learning{Patterns: a.store.Patterns(), History: a.store.History()}
}

// SetMode switches the agent's operating mode.
func (a *Agent) SetMode(mode string) error {
	if !config.ValidMode(mode) {
		return fmt.Errorf("%w: %s", ErrBadMode, mode)
	}
	a.mu.Lock()
	a.mode = mode
	a.mu.Unlock()
	return nil
}

// SetThreshold updates the confidence gate.
func (a *Agent) SetThreshold(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %v", ErrBadThreshold, v)
	}
	a.mu.Lock()
	a.threshold = v
	a.mu.Unlock()
	return nil
}

// Command handles control verbs arriving over the inbound webhook.
func (a *Agent) Command(cmd string) (map[string]any, error) {
	switch cmd {
	case "start", "resume":
		a.mu.Lock()
		a.active = true
		a.mu.Unlock()
		return map[string]any{"active": true}, nil
	case "stop", "pause":
		a.mu.Lock()
		a.active = false
		a.mu.Unlock()
		return map[string]any{"active": false}, nil
	case "status":
		st := a.Status()
		return map[string]any{"status": st}, nil
	case "config":
		a.mu.Lock()
		defer a.mu.Unlock()
		return map[string]any{"mode": a.mode, "confidence_threshold": a.threshold}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}
