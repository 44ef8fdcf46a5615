package saga

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StepState tracks the lifecycle of one step inside a run.
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateRunning     StepState = "running"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

// Data carries values between steps of one run. Steps read the keys
// earlier steps wrote and store their own results under new keys.
type Data map[string]interface{}

// Step is a single unit of work inside a pipeline. Compensate undoes
// the effect of a completed Execute and is called in reverse order
// when a later step fails.
type Step interface {
	ID() string
	Execute(ctx context.Context, data Data) error
	Compensate(ctx context.Context, data Data) error
}

// Definition describes an ordered pipeline of steps.
type Definition struct {
	ID      string
	Steps   []Step
	Timeout time.Duration
}

// StepRecord is the post-run record of one step.
type StepRecord struct {
	StepID string
	State  StepState
	Error  error
}

// Outcome reports what happened during a run, including per-step
// states after any compensation.
type Outcome struct {
	DefinitionID string
	Records      []StepRecord
	Compensated  bool
}

// Runner executes pipelines synchronously. A failed step aborts the
// run and triggers compensation of every step that completed before
// it, newest first.
type Runner struct {
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the definition against data. The returned Outcome is
// non-nil even on failure so callers can inspect which step broke.
func (r *Runner) Run(ctx context.Context, def Definition, data Data) (*Outcome, error) {
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("definition %s has no steps", def.ID)
	}
	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout)
		defer cancel()
	}

	outcome := &Outcome{DefinitionID: def.ID}
	for _, step := range def.Steps {
		outcome.Records = append(outcome.Records, StepRecord{StepID: step.ID(), State: StepStatePending})
	}

	for i, step := range def.Steps {
		outcome.Records[i].State = StepStateRunning
		r.logger.Debug("executing step",
			zap.String("definition", def.ID),
			zap.String("step", step.ID()))

		if err := step.Execute(ctx, data); err != nil {
			outcome.Records[i].State = StepStateFailed
			outcome.Records[i].Error = err
			r.logger.Warn("step failed, compensating",
				zap.String("definition", def.ID),
				zap.String("step", step.ID()),
				zap.Error(err))
			r.compensate(ctx, def, data, outcome, i-1)
			return outcome, fmt.Errorf("step %s: %w", step.ID(), err)
		}
		outcome.Records[i].State = StepStateCompleted
	}

	return outcome, nil
}

// compensate undoes completed steps from index last down to 0.
// Compensation errors are logged and do not stop the sweep.
func (r *Runner) compensate(ctx context.Context, def Definition, data Data, outcome *Outcome, last int) {
	outcome.Compensated = true
	for i := last; i >= 0; i-- {
		step := def.Steps[i]
		if err := step.Compensate(ctx, data); err != nil {
			r.logger.Error("compensation failed",
				zap.String("definition", def.ID),
				zap.String("step", step.ID()),
				zap.Error(err))
			continue
		}
		outcome.Records[i].State = StepStateCompensated
	}
}
