// Package port implements OS port usage scanning and cursor-driven port
// allocation.
//
// The Allocator hands out ports by advancing a host-global cursor under a
// cross-process lock:
//
//	lock → read cursor → used ∪ reserved → probe forward (wrap once) → write cursor → unlock
//
// The Scanner lists the ports the OS reports as listening by running a
// network-status command (netstat -lntu by default), parses its
// header-driven column layout and caches the result for one second so that
// back-to-back allocations do not hammer the OS.
//
// Reserved ports (the manager port and the HTTPS port) are never handed
// out, even if nothing is bound to them.
package port
