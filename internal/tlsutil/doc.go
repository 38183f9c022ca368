// Package tlsutil builds the HTTP clients used for upstream calls to model
// providers and the tool service.
package tlsutil
