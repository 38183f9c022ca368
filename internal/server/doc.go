// Package server runs an http.Server in the background and shuts it down
// gracefully. The API and the metrics endpoint each get their own Manager.
package server
