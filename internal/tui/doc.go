// Package tui provides the terminal progress view for a pipeline run.
//
// The view is read-only. It shows each layer's state, the step running now
// and a short activity log fed by orchestrator events. Users can only quit
// with 'q' or Ctrl+C; the run itself keeps going until it pauses or finishes.
//
// Usage:
//
//	program, view := tui.NewProgressProgram(query, source)
//	go tui.ForwardEvents(program, emitter.Events())
//	go func() {
//		s, err := p.Start(ctx, req)
//		program.Send(tui.RunDoneMsg{State: s, Err: err})
//	}()
//	program.Run()
package tui
