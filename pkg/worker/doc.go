// Package worker provides a bounded, generic worker pool.
//
// The command router hands its asynchronous tails (refetches, restored
// fetches, storage backend writes) to a Pool so that handling a command never
// waits on network or disk. Submit is non-blocking and drops work when the
// queue is full. A panicking item is recovered, counted and reported through
// the error handler; the worker keeps running.
//
//	pool := worker.NewPool(4, 256, func(ctx context.Context, t Task) error {
//	    return t.Run(ctx)
//	}, worker.WithLogger[Task](logger))
//	_ = pool.Start(ctx)
//	defer pool.Stop(5 * time.Second)
package worker
