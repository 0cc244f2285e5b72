// Package queue provides the bounded queues that connect gulp's execution
// units.
//
// A Queue blocks producers when full, which is the pool's backpressure
// mechanism. Consumers stop by reading a shutdown sentinel:
//
//	q := queue.New[Job](1000)
//
//	// producer
//	q.Put(ctx, job)
//
//	// consumer
//	for {
//	    job, err := q.Get(ctx)
//	    if errors.Is(err, queue.ErrShutdown) {
//	        return nil
//	    }
//	    ...
//	}
//
//	// shutdown: one sentinel per consumer
//	for range workers {
//	    q.PutShutdown(ctx)
//	}
package queue
