// Package looper provides a single-goroutine event loop with a time-ordered
// message queue.
//
// Every message posted to a Looper runs on the goroutine that called Run, one
// at a time, ordered by due time and then by post order. Posting is
// goroutine-safe and never blocks; a Looper that has quit drops new posts
// (Post* returns false) instead of failing.
//
// Messages can carry an owner. Remove(owner) drops every pending message of
// that owner, which is how timer tasks pause and cancel themselves.
package looper
