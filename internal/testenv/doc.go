// Package testenv is a deterministic arena for testing routines.
//
// An Arena runs the real state manager, router, and dispatcher over a
// FakeHub and an in-memory cache. Dispatch is synchronous and jobs run
// only when the arena clock advances, so a test reads top to bottom:
//
//	a := testenv.New(t, testenv.Options{Routines: []automation.Routine{routines.MotionLight}})
//	a.SetState(bedroom, "off", nil)
//	a.TriggerStateChange(motion, "off", "on", nil)
//	a.AssertMutated(bedroom, "on")
package testenv
