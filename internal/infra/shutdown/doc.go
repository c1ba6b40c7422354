// Package shutdown coordinates graceful process shutdown.
//
//	ctx, stop := shutdown.WithSignals(context.Background())
//	defer stop()
//	h := shutdown.NewHandler(30*time.Second, logger)
//	h.OnShutdown("engine", engine.Close)
//	<-ctx.Done()
//	err := h.Shutdown(ctx)
package shutdown
