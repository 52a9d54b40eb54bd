package bk

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so checkpoint times are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the local wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces identifiers that tie together the log lines of one
// operation.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
