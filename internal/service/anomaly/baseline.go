package anomaly

import (
	"math"
	"time"
)

// confidenceHalfPoint is the observation count at which baseline confidence
// reaches 0.5.
const confidenceHalfPoint = 50.0

// Baseline is the learned per-client behavioral profile: exponentially
// decayed mean/variance of request size and inter-request interval plus an
// hour-of-day activity histogram. Updated incrementally on every signal.
type Baseline struct {
	TenantID string
	ClientID string

	MeanSize float64
	VarSize  float64

	MeanInterval float64
	VarInterval  float64

	HourHistogram [24]float64

	ObservationCount int64
	LastSeen         time.Time
}

// NewBaseline starts an empty profile for a client.
func NewBaseline(tenantID, clientID string) *Baseline {
	return &Baseline{TenantID: tenantID, ClientID: clientID}
}

// Observe folds one signal into the profile. decay in (0,1) controls how
// fast old behavior is forgotten.
func (b *Baseline) Observe(sizeBytes int64, at time.Time, decay float64) {
	size := float64(sizeBytes)
	if b.ObservationCount == 0 {
		b.MeanSize = size
	} else {
		b.updateSize(size, decay)
		interval := at.Sub(b.LastSeen).Seconds()
		if interval > 0 {
			b.updateInterval(interval, decay)
		}
	}

	for h := range b.HourHistogram {
		b.HourHistogram[h] *= decay
	}
	b.HourHistogram[at.Hour()]++

	b.ObservationCount++
	b.LastSeen = at
}

func (b *Baseline) updateSize(size, decay float64) {
	delta := size - b.MeanSize
	b.MeanSize = decay*b.MeanSize + (1-decay)*size
	b.VarSize = decay*b.VarSize + (1-decay)*delta*delta
}

func (b *Baseline) updateInterval(interval, decay float64) {
	if b.MeanInterval == 0 {
		b.MeanInterval = interval
		return
	}
	delta := interval - b.MeanInterval
	b.MeanInterval = decay*b.MeanInterval + (1-decay)*interval
	b.VarInterval = decay*b.VarInterval + (1-decay)*delta*delta
}

// Confidence is a saturating function of observation count: near zero for a
// fresh profile, approaching one as history accumulates.
func (b *Baseline) Confidence() float64 {
	n := float64(b.ObservationCount)
	return n / (n + confidenceHalfPoint)
}

// HourShare returns the fraction of decayed activity mass in the given hour.
func (b *Baseline) HourShare(hour int) float64 {
	var total float64
	for _, v := range b.HourHistogram {
		total += v
	}
	if total == 0 {
		return 0
	}
	return b.HourHistogram[hour%24] / total
}

// SizeDeviation returns how many baseline standard deviations the given
// request size is from the learned mean.
func (b *Baseline) SizeDeviation(sizeBytes int64) float64 {
	sd := math.Sqrt(b.VarSize)
	if sd == 0 {
		return 0
	}
	return math.Abs(float64(sizeBytes)-b.MeanSize) / sd
}

// IntervalDeviation returns how many standard deviations faster than the
// learned cadence the given inter-request interval is. Slower-than-usual
// intervals are not a harvest signal and return zero.
func (b *Baseline) IntervalDeviation(interval float64) float64 {
	sd := math.Sqrt(b.VarInterval)
	if sd == 0 || interval >= b.MeanInterval {
		return 0
	}
	return (b.MeanInterval - interval) / sd
}
