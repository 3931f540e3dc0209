// Package ui prints human-facing terminal output: the banner, one-line
// messages, the status screen and run summaries. Structured logs go through
// pkg/logger instead.
package ui
