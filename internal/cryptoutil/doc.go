// Package cryptoutil holds the small hashing and comparison helpers shared
// by the rate limiter's client fingerprint and admin authentication.
package cryptoutil
