// Package ratelimit enforces per-user quotas: messages per hour, tokens
// per day and concurrent turns. Counters live in Redis when a cache
// manager is configured and in process memory otherwise.
package ratelimit
