package types

import (
	"fmt"
	"math"
)

type RangeUint64 struct {
	From uint64
	To   uint64
}

func (r RangeUint64) String() string {
	return fmt.Sprintf("[%v, %v]", r.From, r.To)
}

// Constant placehold for uninitialized (or unset) block number
const BlockNumberNil uint64 = math.MaxUint64
