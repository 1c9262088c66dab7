// Package gemini provides a generation.Provider backed by Google's Gemini API.
//
// This package is an infrastructure adapter: it translates between the
// provider contract and the google.golang.org/genai client, maps token usage
// onto configured prices, and categorizes API failures into the generation
// error taxonomy (transient, blocked, invalid response).
package gemini
