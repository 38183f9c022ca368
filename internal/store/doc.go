// Package store persists chat sessions, their turns and user feedback
// with GORM. Sessions move from Active to Closed to Archived; an hourly
// retention task deletes sessions idle past the configured cutoff.
package store
