// Package download implements the two kinds of execution units of a
// download pool.
//
// A [Submitter] reads [Request] values from the request queue, resolves the
// object size, allocates a temp file next to the destination and registers
// the number of jobs with the monitor before queueing them. Objects below
// the multipart threshold become a single [Job] without a range; larger
// objects become one ranged job per chunk.
//
// A [Worker] reads jobs, fetches their bytes with bounded retry and writes
// them at the job's offset. The worker whose decrement brings a transfer's
// remaining count to zero finalizes it: the temp file is renamed into place,
// or removed if any failure was recorded.
//
// Both units stop when they dequeue a shutdown sentinel.
package download
