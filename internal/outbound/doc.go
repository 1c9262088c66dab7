// Package outbound delivers user-facing notifications through a bounded,
// rate-limited asynchronous queue.
//
// A single worker goroutine consumes messages in FIFO order, paces sends with a
// token bucket, retries failed sends in place with exponential backoff, and
// moves messages that exhaust their attempts into a bounded dead-letter buffer.
// Enqueue never blocks: a full queue is reported to the caller immediately.
package outbound
