// Package retry wraps fallible operations in an exponential-backoff retry loop.
//
// Every attempt and every backoff sleep observes the caller's context. After the
// configured number of attempts the last error is returned inside an
// ExhaustedError, so callers can still match the original cause with errors.Is.
package retry
