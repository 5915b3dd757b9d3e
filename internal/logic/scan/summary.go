package scan

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes a set of loop timings.
type Summary struct {
	Passes int
	Mean   time.Duration
	StdDev time.Duration
	Max    time.Duration

	// RefreshHz is the highest full-fan refresh rate the loop sustains.
	RefreshHz float64
	// RotationHz is the fan rate the timings were compared with.
	RotationHz float64
	// BelowRotation is set when the fan cannot be refreshed once per rotation.
	BelowRotation bool
}

// Summarize computes the statistics of durations for a fan spinning at hz.
func Summarize(durations []time.Duration, hz float64) Summary {
	s := Summary{Passes: len(durations), RotationHz: hz}
	if len(durations) == 0 {
		return s
	}

	secs := make([]float64, len(durations))
	for i, d := range durations {
		secs[i] = d.Seconds()
	}

	mean := stat.Mean(secs, nil)
	std := 0.0
	if len(secs) > 1 {
		std = stat.StdDev(secs, nil)
	}
	s.Mean = seconds(mean)
	s.StdDev = seconds(std)
	s.Max = seconds(floats.Max(secs))

	if mean > 0 {
		s.RefreshHz = 1 / mean
	} else {
		s.RefreshHz = math.Inf(1)
	}
	s.BelowRotation = s.RefreshHz < math.Abs(hz)
	return s
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}

func (s Summary) String() string {
	verdict := "keeps up with"
	if s.BelowRotation {
		verdict = "is slower than"
	}
	return fmt.Sprintf("%d passes: mean %s, std dev %s, max %s; %.1f Hz refresh %s the %.1f Hz rotation",
		s.Passes, s.Mean, s.StdDev, s.Max, s.RefreshHz, verdict, math.Abs(s.RotationHz))
}
