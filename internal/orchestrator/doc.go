// Package orchestrator drives a user request through its workflow: it records
// the request in the state machine, routes it to a handler, retries the
// handler, completes or fails the workflow and queues the reply.
//
// Photo submissions follow the same lifecycle around the stage pipeline.
package orchestrator
