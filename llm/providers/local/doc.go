// Package local implements the adapter for self-hosted models served over
// the Ollama generate API.
package local
