// Package lock serializes migration runs against one target.
//
// A run holds the lock by owning a marker record stored in the target
// itself (see MarkerStore). Acquisition follows this protocol:
//
//  1. Take the local per-target mutex, waiting at most the configured
//     timeout (default one minute). Every Manager created with the same key
//     in this process shares that mutex and it stays held until step 6, so
//     co-located runs queue here. Timing out returns ErrLockTimeout.
//  2. While a marker exists (left by another process), wait the poll
//     interval and check again.
//  3. Insert a marker carrying a unique token, the caller's network address,
//     its PID and a timestamp. An insert that loses a race to another
//     process goes back to step 2.
//  4. Register a release hook (by default a SIGINT/SIGTERM handler). The
//     hook cancels the task's context, so an open transaction rolls back
//     and frees its connection, then deletes the marker.
//  5. Run the task.
//  6. On every exit path delete the marker (retrying if the hook's delete
//     failed), then release the local mutex to the next co-located waiter.
//
// # Known Limitations
//
// Handing over the local mutex only wakes callers in the same process.
// Waiters in other processes notice a released marker by polling. This is mutual
// exclusion through a shared record, not distributed consensus: there is no
// lease expiry and no fencing token. A process that dies without running its
// release hook (SIGKILL, power loss) leaves its marker behind, and every
// later run waits until an operator removes it (graphmig unlock).
package lock
