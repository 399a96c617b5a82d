// Package registry is the explicit run-registry service: it creates run
// records on start, executes runs, marks them terminal on completion or
// failure, and supports cancellation and eviction. There is no ambient
// process-wide run state; everything flows through a Registry instance.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"delphi/internal/config"
	"delphi/internal/delphi"
	"delphi/internal/logging"
	"delphi/internal/perception"
	"delphi/internal/process"
	"delphi/internal/report"
	"delphi/internal/store"
)

// RunParams describes one requested run. Sizing values are clamped by the
// registry before execution.
type RunParams struct {
	Prompt      delphi.Prompt
	ExpertCount int
	MaxRounds   int
}

// RunResult is the outcome of a completed run.
type RunResult struct {
	ID             string
	Report         *delphi.Report
	MarkdownPath   string
	JSONPath       string
	InteractionLog string
}

// Registry owns active-run bookkeeping. Each run gets its own isolated
// process instance; runs never share tracker or agent state.
type Registry struct {
	cfg    *config.Config
	store  *store.RunStore
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New creates a registry.
func New(cfg *config.Config, st *store.RunStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:    cfg,
		store:  st,
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}
}

// Execute runs a Delphi process to completion synchronously. A failed or
// cancelled run is marked failed and produces no report artifacts.
func (r *Registry) Execute(ctx context.Context, params RunParams) (*RunResult, error) {
	if params.Prompt.Question == "" {
		return nil, fmt.Errorf("question is required")
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}()

	return r.executeAs(ctx, id, params)
}

// Launch starts a run in the background and returns its id immediately.
func (r *Registry) Launch(params RunParams) (string, error) {
	if params.Prompt.Question == "" {
		return "", fmt.Errorf("question is required")
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.active[id] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
		}()
		if _, err := r.executeAs(ctx, id, params); err != nil {
			r.logger.Error("background run failed", zap.String("run_id", id), zap.Error(err))
		}
	}()
	return id, nil
}

// executeAs is Execute with a caller-chosen id and no re-registration.
func (r *Registry) executeAs(ctx context.Context, id string, params RunParams) (*RunResult, error) {
	logPath := filepath.Join(r.cfg.Storage.LogDir, id+".jsonl")
	audit, err := logging.NewInteractionLog(logPath)
	if err != nil {
		return nil, err
	}
	defer audit.Close()

	if err := r.store.CreateRun(id, params.Prompt.Question, logPath); err != nil {
		return nil, err
	}

	opts := process.Options{
		ExpertCount: config.ClampExpertCount(params.ExpertCount),
		MaxRounds:   config.ClampMaxRounds(params.MaxRounds),
		Model:       r.cfg.Generation.Model,
	}
	gen := perception.NewGenerationClient(perception.GenerationConfig{
		APIKey:        r.cfg.Generation.APIKey,
		BaseURL:       r.cfg.Generation.BaseURL,
		FallbackModel: r.cfg.Generation.FallbackModel,
	}, r.logger)
	search := perception.NewSearchClient(perception.SearchConfig{
		APIKey:  r.cfg.Search.APIKey,
		BaseURL: r.cfg.Search.BaseURL,
		Timeout: time.Duration(r.cfg.Search.TimeoutSeconds) * time.Second,
	}, r.logger)

	runLogger := r.logger.With(zap.String("run_id", id))
	runLogger.Info("run started",
		zap.String("question", params.Prompt.Question),
		zap.Int("experts", opts.ExpertCount),
		zap.Int("max_rounds", opts.MaxRounds))

	proc := process.New(params.Prompt, opts, gen, search, runLogger, audit)
	rep, err := proc.Run(ctx)
	if err != nil {
		runLogger.Error("run failed", zap.Error(err))
		if serr := r.store.MarkFailed(id, err.Error()); serr != nil {
			runLogger.Error("failed to record run failure", zap.Error(serr))
		}
		return nil, fmt.Errorf("run %s failed: %w", id, err)
	}

	writer := report.NewWriter(r.cfg.Storage.ReportDir, runLogger)
	mdPath, jsonPath, err := writer.Write(rep)
	if err != nil {
		runLogger.Error("report write failed", zap.Error(err))
		if serr := r.store.MarkFailed(id, err.Error()); serr != nil {
			runLogger.Error("failed to record run failure", zap.Error(serr))
		}
		return nil, err
	}
	if err := r.store.MarkCompleted(id, string(rep.ConvergenceAnalysis.TerminationReason), mdPath, jsonPath); err != nil {
		return nil, err
	}

	runLogger.Info("run completed",
		zap.String("termination", string(rep.ConvergenceAnalysis.TerminationReason)),
		zap.Int("rounds", rep.ConvergenceAnalysis.RoundsCompleted))

	return &RunResult{ID: id, Report: rep, MarkdownPath: mdPath, JSONPath: jsonPath, InteractionLog: logPath}, nil
}

// Cancel aborts an active run. Returns false when the run is not active.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.active[id]
	if ok {
		cancel()
	}
	return ok
}

// List returns all persisted runs, newest first.
func (r *Registry) List() ([]store.RunRecord, error) { return r.store.ListRuns() }

// Get fetches one run record.
func (r *Registry) Get(id string) (*store.RunRecord, error) { return r.store.GetRun(id) }

// Evict removes a terminal run record. Active runs cannot be evicted.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	_, isActive := r.active[id]
	r.mu.Unlock()
	if isActive {
		return fmt.Errorf("run %s is still active", id)
	}
	return r.store.DeleteRun(id)
}
