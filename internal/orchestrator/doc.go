// Package orchestrator drives a pipeline run through its fixed step graph.
//
// The graph has one node per step and the same shape for every layer:
//
//	Plan -> Generate -> Review -> [Submit | Finish]
//	Submit -> Execute -> [Enrich | AwaitApproval]
//	Enrich -> [Plan (next layer) | Finish]
//
// Branch points are decided by routers, pure functions over the pipeline
// state. The transition table is indexed by models.StepID and is checked for
// completeness when the package loads.
//
// An Orchestrator holds no per-run data. Run takes the state explicitly,
// mutates it and returns it, so the same value can drive many runs and a
// paused run can be re-entered by passing its state back in:
//
//	orch, err := orchestrator.New(steps, orchestrator.WithCheckpointer(store))
//	state = orch.Run(ctx, models.NewPipelineState(id, query, source))
//	if state.Status == models.RunStatusAwaitingApproval {
//		// later, once the change proposal is merged
//		state = orch.Run(ctx, state)
//	}
//
// Run never returns an error. Recoverable step failures are appended to the
// state's error log and the run follows the router. Fatal failures are
// appended with models.FatalMarker and the run jumps to Finish.
package orchestrator
