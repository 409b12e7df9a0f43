package routines

import (
	"context"
	"fmt"

	"github.com/nerrad567/hubrelay/internal/automation"
	"github.com/nerrad567/hubrelay/internal/entity"
	"github.com/nerrad567/hubrelay/internal/events"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
)

var (
	// MotionSwitch reports motion in the bedroom.
	MotionSwitch = entity.MustID("switch.motion")

	// BedroomLight follows MotionSwitch.
	BedroomLight = entity.MustID("light.bedroom")
)

// MotionLight turns the bedroom light on when motion starts and off when
// it stops.
func MotionLight(r *automation.Registry, svc automation.Services) error {
	on := automation.EventFunc(func(ctx context.Context, ev events.StateChanged) error {
		svc.Logger.Info("motion detected, bedroom light on", "from", ev.FromState(),
			logging.CorrelationKey, logging.CorrelationID(ctx))
		return svc.SetState(ctx, BedroomLight, "on")
	}, automation.Named("routines.MotionLight.on"))

	off := automation.Func(func(ctx context.Context) error {
		return svc.SetState(ctx, BedroomLight, "off")
	}, automation.Named("routines.MotionLight.off"))

	if err := r.OnStateChange(MotionSwitch, on, automation.From("off"), automation.To("on")); err != nil {
		return fmt.Errorf("motion on trigger: %w", err)
	}
	if err := r.OnStateChange(MotionSwitch, off, automation.From("on"), automation.To("off")); err != nil {
		return fmt.Errorf("motion off trigger: %w", err)
	}
	return nil
}
