package interfaces

// -----------------------------------------------------------------------------
// IScheduler runs callbacks on the next render tick. Scheduling is the
// building block for notification coalescing: the owner cancels a pending
// handle before scheduling a replacement.
// -----------------------------------------------------------------------------

// CancelFn cancels a scheduled callback. Safe to call after the callback has
// fired, and safe to call more than once.
type CancelFn func()

type IScheduler interface {

	// Schedule queues fn for the next tick and returns a cancel handle.
	Schedule(fn func()) CancelFn
}
