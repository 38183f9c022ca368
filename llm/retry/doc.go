// Package retry provides exponential backoff for calls that fail with a
// retryable *types.Error.
package retry
