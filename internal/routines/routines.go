package routines

import "github.com/nerrad567/hubrelay/internal/automation"

// All returns every routine installed into the production registry.
func All() []automation.Routine {
	return []automation.Routine{
		MotionLight,
	}
}
