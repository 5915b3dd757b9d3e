// Package scan drives a fan through time: a full rotation sampled at a fixed
// interval, and a loop-timing diagnostic that tells how fast the LEDs could
// be refreshed.
package scan

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cjeanneret/povfan/internal/debug"
	"github.com/cjeanneret/povfan/internal/logic/fan"
)

// ErrSamplingPrecondition is returned when a scan cannot cover one rotation
// with the requested interval.
var ErrSamplingPrecondition = errors.New("sampling precondition failed")

// MaxFrames bounds the length of a single scan.
const MaxFrames = 1 << 20

// Sampler is the part of a fan the scans need.
type Sampler interface {
	Sample(t float64) (fan.Frame, error)
	Reset()
	Period() float64
}

// Frames returns how many frames a scan of one period takes at interval: the
// smallest n with n*interval >= period. Scans longer than MaxFrames are
// rejected.
func Frames(period, interval float64) (int, error) {
	if !(interval > 0) || math.IsInf(interval, 0) {
		return 0, fmt.Errorf("%w: interval must be > 0, got %g", ErrSamplingPrecondition, interval)
	}
	if math.IsInf(period, 0) || math.IsNaN(period) {
		return 0, fmt.Errorf("%w: fan is not rotating", ErrSamplingPrecondition)
	}
	if interval > period {
		return 0, fmt.Errorf("%w: interval %gs is longer than one rotation (%.4fs)", ErrSamplingPrecondition, interval, period)
	}
	ratio := period / interval
	if !(ratio <= MaxFrames) {
		return 0, fmt.Errorf("%w: interval %gs needs more than %d frames per rotation", ErrSamplingPrecondition, interval, MaxFrames)
	}
	n := int(math.Ceil(ratio))
	// The division may round either way; settle on the exact boundary.
	for n > 1 && float64(n-1)*interval >= period {
		n--
	}
	for float64(n)*interval < period {
		n++
	}
	return n, nil
}

// RotationScan samples one full rotation: the blades are reset, then frame k
// shows the fan at elapsed time k*interval, for every k*interval < period.
// Each frame is handed to visit; a visit error stops the scan. It returns the
// number of frames visited.
func RotationScan(ctx context.Context, s Sampler, interval float64, visit func(fan.Frame) error) (int, error) {
	n, err := Frames(s.Period(), interval)
	if err != nil {
		return 0, err
	}

	debug.Section("Rotation scan")
	debug.Verbose("%d frames, interval %gs, period %.4fs", n, interval, s.Period())

	s.Reset()
	for k := 0; k < n; k++ {
		select {
		case <-ctx.Done():
			return k, ctx.Err()
		default:
		}

		dt := interval
		if k == 0 {
			dt = 0
		}
		frame, err := s.Sample(dt)
		if err != nil {
			return k, fmt.Errorf("frame %d: %w", k, err)
		}
		frame.T = float64(k) * interval

		if debug.IsEnabled(debug.LevelLive) {
			lit, total := 0, 0
			for _, b := range frame.Blades {
				lit += b.Lit()
				total += len(b.Colors)
			}
			debug.Frame(k, frame.T, lit, total)
		}
		if debug.IsEnabled(debug.LevelTrace) {
			for _, b := range frame.Blades {
				debug.Trace("frame %d blade %d: angle %.2f°, %.4f rotations, %d/%d lit",
					k, b.Index, b.Angle, b.Rotations, b.Lit(), len(b.Colors))
			}
		}

		if err := visit(frame); err != nil {
			return k, err
		}
	}
	return n, nil
}

// MeasureLoopTiming samples every blade in a loop, advancing each pass by the
// wall time the previous pass took, until the accumulated time reaches
// duration. It returns the duration of every pass.
func MeasureLoopTiming(ctx context.Context, s Sampler, duration time.Duration) ([]time.Duration, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be > 0, got %s", ErrSamplingPrecondition, duration)
	}

	debug.Section("Loop timing")
	var (
		passes []time.Duration
		total  time.Duration
		last   time.Duration
	)
	for total < duration {
		select {
		case <-ctx.Done():
			return passes, ctx.Err()
		default:
		}

		start := time.Now()
		if _, err := s.Sample(last.Seconds()); err != nil {
			return passes, fmt.Errorf("pass %d: %w", len(passes), err)
		}
		last = time.Since(start)

		passes = append(passes, last)
		total += last
	}
	debug.Verbose("%d passes in %s", len(passes), total)
	return passes, nil
}
