// Package summary turns a consultation transcript into a structured
// clinical summary through an external chat-completions service, then runs
// a deterministic terminology correction pass over the result.
package summary
