// Package monitor tracks completion, failure and outstanding jobs for every
// transfer.
//
// A [Table] holds one record per transfer, created on first reference. A
// [Host] owns the table and serves it from one goroutine; execution units
// only ever see a [Proxy], which implements [Monitor] by sending requests to
// the host:
//
//	host := monitor.NewHost(monitor.NewTable())
//	host.Start()
//	defer host.Stop()
//
//	mon := host.Proxy()
//	mon.NotifyExpectedJobs(id, 3)
//	if mon.DecrementJobComplete(id) == 0 {
//	    // finalize
//	    mon.NotifyDone(id)
//	}
//
// Records are never evicted; the table grows for the lifetime of the host.
package monitor
