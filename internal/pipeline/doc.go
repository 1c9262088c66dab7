// Package pipeline runs the photo-analysis stage sequence: screen, extract,
// entity match and synthesize.
//
// Stages run strictly in order. A stage that fails or panics is recorded in
// the result and the run continues with whatever the later stages can still
// use, so Run always returns a complete PipelineResult. Extraction results are
// cached by content hash of the input bytes.
package pipeline
