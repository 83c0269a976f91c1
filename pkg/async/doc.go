// Package async runs background work without leaking goroutines or crashing
// the process.
//
// WorkerPool is a fixed set of workers behind a bounded queue; outbound email
// is dispatched through one. TrySubmit never blocks, so a full queue drops the
// task instead of stalling a request.
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{Name: "email", Workers: 4, QueueSize: 100}, log)
//	defer pool.Shutdown(5 * time.Second)
//	if err := pool.TrySubmit(send); err != nil {
//		log.WithError(err).Warn("email dropped")
//	}
//
// SafeGo is for one-off fire-and-forget tasks such as cache invalidation. It
// detaches from the request context so the task outlives the response.
package async
