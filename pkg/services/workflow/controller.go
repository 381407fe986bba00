package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/de-tools/revenue-atlas/pkg/models/domain"
	"github.com/de-tools/revenue-atlas/pkg/services/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrRunInProgress = errors.New("too many runs in progress")
)

type Controller interface {
	Start(ctx context.Context, req pipeline.Request) (*pipeline.Run, error)
	Stop(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*pipeline.Run, error)
	List(ctx context.Context) []*pipeline.Run
}

// Executor is satisfied by *pipeline.Orchestrator.
type Executor interface {
	Execute(ctx context.Context, run *pipeline.Run, req pipeline.Request) domain.PipelineRun
}

// CompletionHook is called with the final result of every run.
type CompletionHook func(ctx context.Context, result domain.PipelineRun)

type Config struct {
	// Retain is how many finished runs stay queryable.
	Retain int
	// MaxActive bounds concurrently executing runs.
	MaxActive int
	OnComplete []CompletionHook
	Clock      func() time.Time
}

type runDescriptor struct {
	run    *pipeline.Run
	runner *Runner
}

type DefaultController struct {
	executor Executor
	config   Config

	mu    sync.Mutex
	runs  map[string]runDescriptor
	order []string
}

func NewController(executor Executor, config Config) *DefaultController {
	if config.Retain <= 0 {
		config.Retain = 5
	}
	if config.MaxActive <= 0 {
		config.MaxActive = 1
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &DefaultController{
		executor: executor,
		config:   config,
		runs:     make(map[string]runDescriptor),
	}
}

// Start launches a run in the background. The run outlives ctx; use Stop.
func (ctrl *DefaultController) Start(ctx context.Context, req pipeline.Request) (*pipeline.Run, error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	active := 0
	for _, desc := range ctrl.runs {
		if !desc.run.Status().Terminal() {
			active++
		}
	}
	if active >= ctrl.config.MaxActive {
		return nil, fmt.Errorf("%w: %d active", ErrRunInProgress, active)
	}

	run := pipeline.NewRun(uuid.NewString(), ctrl.config.Clock)
	runner := NewRunner(run, ctrl.executor, req, ctrl.config.OnComplete)
	ctrl.runs[run.ID()] = runDescriptor{run: run, runner: runner}
	ctrl.order = append(ctrl.order, run.ID())
	ctrl.evictLocked()

	logger := zerolog.Ctx(ctx).With().Str("run_id", run.ID()).Logger()
	go runner.Run(logger.WithContext(context.WithoutCancel(ctx)))

	return run, nil
}

func (ctrl *DefaultController) Stop(_ context.Context, id string) error {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	desc, ok := ctrl.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	desc.run.Stop()
	return nil
}

func (ctrl *DefaultController) Get(_ context.Context, id string) (*pipeline.Run, error) {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	desc, ok := ctrl.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return desc.run, nil
}

// List returns retained runs, newest first.
func (ctrl *DefaultController) List(_ context.Context) []*pipeline.Run {
	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()

	runs := make([]*pipeline.Run, 0, len(ctrl.order))
	for i := len(ctrl.order) - 1; i >= 0; i-- {
		runs = append(runs, ctrl.runs[ctrl.order[i]].run)
	}
	return runs
}

// Shutdown stops every run and waits for the runners to return.
func (ctrl *DefaultController) Shutdown(ctx context.Context) error {
	ctrl.mu.Lock()
	runners := make([]*Runner, 0, len(ctrl.runs))
	for _, desc := range ctrl.runs {
		desc.run.Stop()
		runners = append(runners, desc.runner)
	}
	ctrl.mu.Unlock()

	for _, r := range runners {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// evictLocked drops the oldest finished runs beyond the retention limit.
func (ctrl *DefaultController) evictLocked() {
	excess := len(ctrl.order) - ctrl.config.Retain
	if excess <= 0 {
		return
	}

	kept := ctrl.order[:0]
	for _, id := range ctrl.order {
		if excess > 0 && ctrl.runs[id].run.Status().Terminal() {
			delete(ctrl.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	ctrl.order = kept
}
