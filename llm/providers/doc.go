/*
Package providers holds the plumbing shared by the provider adapters in its
subpackages: HTTP status and transport error classification, JSON and SSE
helpers, tool argument normalisation and the base adapter configuration.

Every adapter maps non-2xx replies with [MapHTTPError] so that retry flags
and error codes agree across providers.
*/
package providers
