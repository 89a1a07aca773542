// Package lock provides a named, host-wide exclusive lock that serializes
// work across unrelated OS processes.
//
// The lock is an flock(2) on "<dir>/<name>.lock". Acquisition blocks until
// the lock is free, which is the intended behavior for bootstrap code. A
// context that can be cancelled turns acquisition into a bounded poll so
// callers can opt into a timeout.
package lock
