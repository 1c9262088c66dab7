// Package events carries workflow transition notifications from the state
// machine to interested components without coupling them to it.
//
// The primary components are:
// - TransitionEvent: a record of one committed state change
// - EventHandler: interface for components that react to transitions
// - EventEmitter: interface the state machine publishes through
// - InMemoryEventEmitter: synchronous fan-out to registered handlers
package events
