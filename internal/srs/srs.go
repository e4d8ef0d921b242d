// Package srs implements the SM-2 family spaced-repetition law used to
// schedule card reviews. Everything here is pure: the only input from the
// outside world is the review time passed by the caller.
package srs

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Scheduling constants. The fixed second step and the full reset on a failed
// recall must match existing review histories exactly.
const (
	MinEasiness     = 1.3
	DefaultEasiness = 2.5
	MinInterval     = 1
	SecondInterval  = 6
	PassingQuality  = 3
	MaxQuality      = 5
)

// ErrInvalidQuality is returned for a quality grade outside 0..5.
var ErrInvalidQuality = errors.New("srs: quality must be between 0 and 5")

// Result is the new scheduling state after a review.
type Result struct {
	Interval     int
	Easiness     float64
	NextReviewAt time.Time
}

// ComputeReview derives the next interval, easiness and review time from a
// quality grade (0..5) and the card's prior state.
//
// A failed recall (quality < 3) resets the interval to one day, keeps the
// easiness and makes the card due immediately. A successful recall adjusts
// the easiness (floored at 1.3); the first success after a reset always
// jumps to six days, later ones multiply the prior interval by the new
// easiness and round up.
//
// Out-of-range priors are clamped (interval to 1, easiness to 1.3) rather
// than rejected, since they can only come from records written by older
// clients.
func ComputeReview(quality, priorInterval int, priorEasiness float64, now time.Time) (Result, error) {
	if quality < 0 || quality > MaxQuality {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidQuality, quality)
	}

	if priorInterval < MinInterval {
		priorInterval = MinInterval
	}

	if priorEasiness < MinEasiness {
		priorEasiness = MinEasiness
	}

	if quality < PassingQuality {
		return Result{
			Interval:     MinInterval,
			Easiness:     priorEasiness,
			NextReviewAt: now,
		}, nil
	}

	easiness := NextEasiness(quality, priorEasiness)

	var interval int
	if priorInterval == MinInterval {
		interval = SecondInterval
	} else {
		interval = int(math.Ceil(float64(priorInterval) * easiness))
	}

	return Result{
		Interval:     interval,
		Easiness:     easiness,
		NextReviewAt: now.AddDate(0, 0, interval),
	}, nil
}

// NextEasiness applies the SM-2 easiness update for a passing grade:
// EF' = EF + (0.1 - (5-q)*(0.08 + (5-q)*0.02)), floored at MinEasiness.
func NextEasiness(quality int, easiness float64) float64 {
	miss := float64(MaxQuality - quality)
	next := easiness + (0.1 - miss*(0.08+miss*0.02))

	return math.Max(MinEasiness, next)
}

// IsDue reports whether a card scheduled for next is due at now.
func IsDue(next, now time.Time) bool {
	return !next.After(now)
}
