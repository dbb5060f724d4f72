// Package supervisor attaches record streams to pipes and child processes
// and keeps the host alive until every stream has completed.
//
// Each attached stream takes one hold on the supervisor's pending-work
// counter and gives it back exactly once from its completion hook, so
// Wait returns as soon as the last pipe has been released:
//
//	sup := supervisor.NewSupervisor(supervisor.WithLogger(logger))
//	child, err := sup.Spawn(ctx, supervisor.CommandSpec{Path: "./find"}, emit)
//	if err != nil {
//		return err
//	}
//	_ = sup.Wait(ctx)
//	return child.Wait()
//
// Shutdown cancels every stream and terminates every child.
package supervisor
