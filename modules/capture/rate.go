package capture

import (
	"math"
	"time"
)

// rateSampleFrames is how many dequeues the pipeline times after Start
// before reporting the measured input rate.
const rateSampleFrames = 60

const (
	// fpsStableRatio bounds the stddev of instantaneous fps as a fraction of
	// the mean.
	fpsStableRatio = 0.15
	// jitterStableRatio bounds the mean deviation from the expected
	// inter-frame interval.
	jitterStableRatio = 0.20
)

// RateStats describes the measured input frame rate. HDMI sources often
// deliver a different rate than the nominal configuration.
type RateStats struct {
	Frames     int           `json:"frames"`
	Duration   time.Duration `json:"duration"`
	FPSMean    float64       `json:"fps_mean"`
	FPSStdDev  float64       `json:"fps_stddev"`
	FPSMin     float64       `json:"fps_min"`
	FPSMax     float64       `json:"fps_max"`
	JitterMean time.Duration `json:"jitter_mean"`
	JitterMax  time.Duration `json:"jitter_max"`
	Stable     bool          `json:"stable"`
}

// MeasureRate computes rate statistics from dequeue timestamps in order.
// Fewer than two timestamps yields a zero, unstable result.
func MeasureRate(times []time.Time) RateStats {
	n := len(times)
	rs := RateStats{Frames: n}
	if n < 2 {
		return rs
	}
	rs.Duration = times[n-1].Sub(times[0])
	if rs.Duration <= 0 {
		return rs
	}

	intervals := n - 1
	rs.FPSMean = float64(intervals) / rs.Duration.Seconds()
	expected := rs.Duration / time.Duration(intervals)

	var sumSq, jitterSum float64
	valid := 0
	for i := 1; i < n; i++ {
		d := times[i].Sub(times[i-1])

		j := d - expected
		if j < 0 {
			j = -j
		}
		jitterSum += float64(j)
		if j > rs.JitterMax {
			rs.JitterMax = j
		}

		if d <= 0 {
			continue
		}
		fps := 1 / d.Seconds()
		if valid == 0 || fps < rs.FPSMin {
			rs.FPSMin = fps
		}
		if fps > rs.FPSMax {
			rs.FPSMax = fps
		}
		diff := fps - rs.FPSMean
		sumSq += diff * diff
		valid++
	}
	if valid > 0 {
		rs.FPSStdDev = math.Sqrt(sumSq / float64(valid))
	}
	rs.JitterMean = time.Duration(jitterSum / float64(intervals))

	rs.Stable = rs.FPSStdDev < rs.FPSMean*fpsStableRatio &&
		float64(rs.JitterMean) < float64(expected)*jitterStableRatio
	return rs
}
