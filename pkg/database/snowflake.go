package database

import (
	"sync/atomic"
	"time"
)

// Snowflake generates unique, time-ordered chat message IDs.
// Format: 41 bits (timestamp) | 12 bits (sequence)
// IDs stay below 2^53 so JSON clients parse them exactly. Ordering by ID is
// ordering by creation time, which is what history queries rely on.
type Snowflake struct {
	epoch int64 // Custom epoch in milliseconds
	state atomic.Int64
	now   func() int64
}

const (
	timestampBits = 41
	sequenceBits  = 12
	sequenceMask  = (1 << sequenceBits) - 1
	maxTimestamp  = (1 << timestampBits) - 1

	// MaxSafeID is the largest integer a float64 JSON number holds exactly
	MaxSafeID = 1<<53 - 1
)

// NewSnowflake creates a new Snowflake ID generator
func NewSnowflake(epoch int64) *Snowflake {
	return &Snowflake{
		epoch: epoch,
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// NextID generates the next ID without locking
func (s *Snowflake) NextID() int64 {
	for {
		old := s.state.Load()
		lastTime := old >> sequenceBits
		sequence := old & sequenceMask

		now := s.now()
		if now < lastTime {
			// Clock moved backwards: keep issuing from the last known millisecond
			now = lastTime
		}

		var next int64
		if now == lastTime {
			sequence = (sequence + 1) & sequenceMask
			if sequence == 0 {
				// Sequence exhausted for this millisecond
				for now <= lastTime {
					now = s.now()
				}
			}
		} else {
			sequence = 0
		}
		next = (now << sequenceBits) | sequence

		if s.state.CompareAndSwap(old, next) {
			return (((now - s.epoch) & maxTimestamp) << sequenceBits) | sequence
		}
	}
}
