package edge

import (
	"github.com/fogline/fogline/pkg/fogline/event"
)

// Thresholds configure classification for one source.
type Thresholds struct {
	// PeopleHigh is the absolute count at or above which a crowd gathering
	// is reported.
	PeopleHigh int

	// RapidRise is the minimum increase between the current count and the
	// count two classified cycles back that counts as a sudden spike.
	RapidRise int
}

const (
	smoothingWindow = 5
	trendDepth      = 3
)

// Classifier holds the per-source rolling state: a smoothing window over raw
// observations and a short trend history over classified counts. The state
// is in-memory only; after a restart it rebuilds within a few cycles.
type Classifier struct {
	thresholds Thresholds
	window     []int
	trend      []int
}

// NewClassifier creates a classifier with the given thresholds.
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Smooth records a raw observation and returns the rounded mean over the
// last few observations, damping single-frame noise.
func (c *Classifier) Smooth(raw int) int {
	c.window = append(c.window, raw)
	if len(c.window) > smoothingWindow {
		c.window = c.window[len(c.window)-smoothingWindow:]
	}
	sum := 0
	for _, v := range c.window {
		sum += v
	}
	return (sum + len(c.window)/2) / len(c.window)
}

// Classify records the smoothed count in the trend history and returns the
// event kind. Precedence: high-absolute threshold, then rapid rise over two
// cycles, then routine.
func (c *Classifier) Classify(count int) string {
	c.trend = append(c.trend, count)
	if len(c.trend) > trendDepth {
		c.trend = c.trend[len(c.trend)-trendDepth:]
	}

	if count >= c.thresholds.PeopleHigh {
		return event.TypeCrowdGathering
	}
	if len(c.trend) == trendDepth && count-c.trend[0] >= c.thresholds.RapidRise {
		return event.TypeSuddenSpike
	}
	return event.TypeRoutineUpdate
}
