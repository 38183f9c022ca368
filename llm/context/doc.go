// Package context selects which stored turns are sent to a model. Trimming
// works on units, so an assistant turn and the tool turns answering it are
// always kept or dropped together.
package context
