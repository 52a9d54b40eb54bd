package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDGenerator returns op-1, op-2, ... Safe for concurrent use.
type SequentialIDGenerator struct {
	n atomic.Int64
}

func (g *SequentialIDGenerator) New() string {
	return fmt.Sprintf("op-%d", g.n.Add(1))
}
