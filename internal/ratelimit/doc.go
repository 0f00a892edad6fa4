// Package ratelimit is an in-memory fixed-window admission gate keyed by
// client fingerprint and quota class.
//
// Each (class, client) pair owns a counter and the instant its window ends.
// The first request after a window ends starts a new one; requests inside a
// window increment the counter and are denied once it exceeds the policy
// maximum. Denied requests still count, so retrying never shortens a block.
//
// State is per process. Nothing is persisted and replicas do not coordinate,
// so N replicas admit up to N times the quota for a client that is spread
// across them. Restarting the process clears every counter.
//
// What this protects against:
//   - one client hammering the write endpoints (admin credential guessing, spam)
//   - one client scraping the directory faster than a browser would
//
// What it does not protect against:
//   - distributed clients, each stays under its own quota
//   - clients rotating User-Agent strings to mint new fingerprints
package ratelimit
