package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/jobs"
	"github.com/nerrad567/hubrelay/internal/state"
)

// StateAccess is the entity read/mutate surface handlers use.
// *state.Manager satisfies it.
type StateAccess interface {
	State(ctx context.Context, id entity.ID) (string, error)
	Attribute(ctx context.Context, id entity.ID, name string) (entity.Value, error)
	Snapshot(ctx context.Context, id entity.ID) (entity.Snapshot, error)
	Mutate(ctx context.Context, id entity.ID, req state.MutateRequest) (entity.Snapshot, error)
	InvokeAction(ctx context.Context, domain, action string, id entity.ID, params map[string]any) ([]entity.Snapshot, error)
}

var _ StateAccess = (*state.Manager)(nil)

// Services is what a routine's handlers close over.
type Services struct {
	State  StateAccess
	Jobs   JobScheduler
	Logger Logger

	// Now is the clock handlers should use. Defaults to time.Now.
	Now func() time.Time
}

// Routine registers a group of related triggers.
type Routine func(r *Registry, svc Services) error

// Install runs each routine against r, stopping at the first failure.
func Install(r *Registry, svc Services, routines ...Routine) error {
	if svc.Logger == nil {
		svc.Logger = noopLogger{}
	}
	if svc.Now == nil {
		svc.Now = time.Now
	}
	for i, routine := range routines {
		if err := routine(r, svc); err != nil {
			return fmt.Errorf("installing routine %d: %w", i, err)
		}
	}
	return nil
}

// SetState is a convenience for Mutate with only a primary state.
func (s Services) SetState(ctx context.Context, id entity.ID, value string) error {
	_, err := s.State.Mutate(ctx, id, state.MutateRequest{State: &value})
	return err
}

// After schedules a registered job handler to run after d.
func (s Services) After(ctx context.Context, d time.Duration, handler string, params map[string]any, opts ...jobs.Option) (string, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Jobs.Schedule(ctx, now().Add(d), handler, params, opts...)
}
