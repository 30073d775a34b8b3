package backoff

import (
	"math"
	"time"
)

// Backoff computes the delay before the next retry given the number of
// retries already made. Duration(0) is the delay after the first failure.
type Backoff interface {
	Duration(retries int) time.Duration
}

type ExponentialBackoff struct {
	Interval time.Duration
	Base     int
	// Max caps the computed delay. Zero means no cap.
	Max time.Duration
}

var _ Backoff = (*ExponentialBackoff)(nil)

func (b *ExponentialBackoff) Duration(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	d := time.Duration(float64(b.Interval) * math.Pow(float64(b.Base), float64(retries)))
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

type ConstantBackoff struct {
	Interval time.Duration
}

var _ Backoff = (*ConstantBackoff)(nil)

func (b *ConstantBackoff) Duration(int) time.Duration {
	return b.Interval
}

// ScheduledBackoff returns delays from a fixed schedule, repeating the
// last entry once the schedule is exhausted.
type ScheduledBackoff struct {
	Schedule []time.Duration
}

var _ Backoff = (*ScheduledBackoff)(nil)

func (b *ScheduledBackoff) Duration(retries int) time.Duration {
	if len(b.Schedule) == 0 {
		return 0
	}
	if retries < 0 {
		retries = 0
	}
	if retries >= len(b.Schedule) {
		return b.Schedule[len(b.Schedule)-1]
	}
	return b.Schedule[retries]
}
