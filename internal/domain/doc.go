// Package domain contains the workflow execution model: the states a
// workflow moves through, the permitted edges between them, the transition
// audit record, and the validation errors shared by every layer.
package domain
