package history

import (
	"context"
	"time"
)

// Recorder logs applied temperature changes.
type Recorder interface {
	Record(ctx context.Context, snapshot *Snapshot) error
	Close() error
}

// Repository stores snapshots.
type Repository interface {
	Record(snapshot *Snapshot) error
	Close() error
}

// Snapshot is one successful set_temperature: the outputs it changed and
// the values they received.
type Snapshot struct {
	Timestamp time.Time
	Entries   []Entry
}

type Entry struct {
	Output string
	Kelvin uint32
	Gamma  float32
}
