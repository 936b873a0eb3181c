// Package workflow executes named, ordered steps with durable
// checkpointing. Re-invoking a run with the same execution identity after
// a crash skips every step that already checkpointed, so steps only need
// to be safe under at-least-once execution.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Store is the durable checkpoint backend. Get returns nil data when no
// checkpoint exists for the step.
type Store interface {
	Get(ctx context.Context, executionID, step string) ([]byte, error)
	Save(ctx context.Context, executionID, step string, data []byte) error
}

// Run drives one workflow execution. The execution ID must be stable
// across retries of the same job (the asynq task ID is).
type Run struct {
	ID    string
	store Store
}

func NewRun(executionID string, store Store) *Run {
	return &Run{ID: executionID, store: store}
}

// Step executes a named step with no result. If a checkpoint exists the
// step is skipped; otherwise the function runs and a checkpoint is saved
// before the workflow advances.
func (r *Run) Step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	data, err := r.store.Get(ctx, r.ID, name)
	if err != nil {
		return err
	}
	if data != nil {
		log.Printf("Run %s: skipping checkpointed step %q", r.ID, name)
		return nil
	}

	if stepErr := fn(ctx); stepErr != nil {
		return fmt.Errorf("step %q: %w", name, stepErr)
	}

	return r.store.Save(ctx, r.ID, name, []byte("{}"))
}

// StepResult executes a named step that returns a typed value. The result
// is stored as JSON; on replay the cached result is returned without
// re-running the step function.
//
// Package-level because Go does not allow generic methods.
func StepResult[T any](r *Run, ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	data, err := r.store.Get(ctx, r.ID, name)
	if err != nil {
		return zero, err
	}
	if data != nil {
		var cached T
		if err := json.Unmarshal(data, &cached); err != nil {
			return zero, fmt.Errorf("decode checkpoint %q: %w", name, err)
		}
		log.Printf("Run %s: returning checkpointed result for %q", r.ID, name)
		return cached, nil
	}

	result, stepErr := fn(ctx)
	if stepErr != nil {
		return zero, fmt.Errorf("step %q: %w", name, stepErr)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("encode checkpoint %q: %w", name, err)
	}
	if err := r.store.Save(ctx, r.ID, name, encoded); err != nil {
		return zero, err
	}
	return result, nil
}
