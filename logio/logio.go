// Package logio implements the LogSink/LogSource abstraction: an
// append-only, optionally write-buffered, optionally rotated log over
// an env.Env, with a logical offset that stays monotonic across
// physical file rotations. Grounded directly on the plfsio io.h
// LogSink/LogSource contract.
package logio

import "fmt"

// RotationType selects whether a sink's physical file ever changes
// underneath its logical offset.
type RotationType int

const (
	// NoRotation keeps one physical file (<prefix>.dat) for the life
	// of the sink.
	NoRotation RotationType = iota
	// RotationExtCtrl names the first file <prefix>.dat.0 and lets the
	// caller rotate explicitly via Lrotate; the sink never rotates on
	// its own.
	RotationExtCtrl
)

// LogType distinguishes data logs (random-read optimized) from index
// logs (table indexes, filters: sequential reads, eagerly cached).
type LogType int

const (
	DataLog LogType = iota
	IndexLog
)

func baseName(prefix string) string { return prefix + ".dat" }

func rotatedName(prefix string, index int) string {
	return fmt.Sprintf("%s.%d", baseName(prefix), index)
}
