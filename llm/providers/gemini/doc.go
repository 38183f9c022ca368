// Package gemini implements the Google Gemini adapter.
package gemini
