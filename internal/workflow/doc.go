// Package workflow tracks long-running, multi-step requests through the
// fixed lifecycle defined in the domain package.
//
// A StateMachine validates every requested state change against the adjacency
// table, persists it through a store.WorkflowStore with a compare-and-set on
// the expected current state, and announces committed changes on an
// events.EventEmitter. Changes to one workflow are serialized within the
// process; changes made by other processes are detected by the store and
// re-validated.
package workflow
