package shared

import (
	"strconv"
	"sync"
	"time"
)

// OperationIDs issues correlation ids of the form "{n}_{operation}".
// n is seeded from the clock in milliseconds on first use and incremented on every call.
type OperationIDs struct {
	mu    sync.Mutex
	seq   int64
	clock func() time.Time
}

// NewOperationIDs returns a generator using clock (time.Now when nil).
func NewOperationIDs(clock func() time.Time) *OperationIDs {
	if clock == nil {
		clock = time.Now
	}
	return &OperationIDs{clock: clock}
}

// Next returns the next id for operation.
func (o *OperationIDs) Next(operation string) string {
	o.mu.Lock()
	if o.seq == 0 {
		o.seq = o.clock().UnixMilli()
	} else {
		o.seq++
	}
	n := o.seq
	o.mu.Unlock()
	return strconv.FormatInt(n, 10) + "_" + operation
}
