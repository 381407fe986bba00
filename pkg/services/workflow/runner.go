package workflow

import (
	"context"
	"fmt"

	"github.com/de-tools/revenue-atlas/pkg/services/pipeline"
	"github.com/rs/zerolog"
)

// Runner executes a single pipeline run on its own goroutine.
type Runner struct {
	run      *pipeline.Run
	executor Executor
	request  pipeline.Request
	hooks    []CompletionHook
	done     chan struct{}
}

func NewRunner(run *pipeline.Run, executor Executor, req pipeline.Request, hooks []CompletionHook) *Runner {
	return &Runner{
		run:      run,
		executor: executor,
		request:  req,
		hooks:    hooks,
		done:     make(chan struct{}),
	}
}

// Done is closed after the run and all completion hooks have finished.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) Run(ctx context.Context) {
	logger := zerolog.Ctx(ctx)
	defer close(r.done)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("pipeline run panicked")
			r.run.Fail(fmt.Errorf("pipeline run panicked: %v", rec))
		}
	}()

	result := r.executor.Execute(ctx, r.run, r.request)
	logger.Info().
		Str("status", string(result.Status)).
		Int("errors", len(result.Errors)).
		Dur("elapsed", result.Elapsed).
		Msg("pipeline run finished")

	for _, hook := range r.hooks {
		hook(ctx, result)
	}
}
